package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/kbukum/taskflow/errors"
)

// Header names carrying a callback's signature.
const (
	HeaderSignature = "X-Taskflow-Signature"
	HeaderTimestamp = "X-Taskflow-Timestamp"
)

// DefaultTolerance is how far a callback timestamp may drift from now.
const DefaultTolerance = 5 * time.Minute

// Signer computes and checks callback signatures. A signature is the hex
// HMAC-SHA256 of task id, step index and unix timestamp concatenated.
type Signer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewSigner(secret string, tolerance time.Duration) *Signer {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Signer{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign returns the signature for a callback sent at ts.
func (s *Signer) Sign(taskID string, stepIndex int, ts int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(taskID + strconv.Itoa(stepIndex) + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature and freshness. A bad signature is reported before
// a stale timestamp so forged requests learn nothing about the clock.
func (s *Signer) Verify(taskID string, stepIndex int, ts int64, signature string) error {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return errors.InvalidSignature()
	}
	want, _ := hex.DecodeString(s.Sign(taskID, stepIndex, ts))
	if !hmac.Equal(got, want) {
		return errors.InvalidSignature()
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > s.tolerance {
		return errors.StaleCallback(age.Truncate(time.Second).String())
	}
	return nil
}

// SignedHeaders returns the headers a sender attaches to a callback.
func (s *Signer) SignedHeaders(taskID string, stepIndex int) map[string]string {
	ts := s.now().Unix()
	return map[string]string{
		HeaderSignature: s.Sign(taskID, stepIndex, ts),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
	}
}

// ParseTimestamp reads a unix-seconds header value.
func ParseTimestamp(v string) (int64, error) {
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.InvalidInput(HeaderTimestamp, fmt.Sprintf("%q is not a unix timestamp", v))
	}
	return ts, nil
}
