package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/kbukum/taskflow/server/middleware"
)

// Claims are the token claims. Subject carries the user id.
type Claims struct {
	gojwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// Service issues and parses tokens.
type Service struct {
	cfg       Config
	signKey   interface{}
	verifyKey interface{}
	now       func() time.Time
}

// NewService validates cfg and loads its keys.
func NewService(cfg Config) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sign, verify, err := cfg.keys()
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, signKey: sign, verifyKey: verify, now: time.Now}, nil
}

// Issue signs a token for userID valid for the configured TTL.
func (s *Service) Issue(userID string, scopes ...string) (string, error) {
	if s.signKey == nil {
		return "", errors.New("auth: no signing key configured")
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
		Scopes: scopes,
	}
	if s.cfg.Audience != "" {
		claims.Audience = gojwt.ClaimStrings{s.cfg.Audience}
	}
	signed, err := gojwt.NewWithClaims(s.cfg.signingMethod(), claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature, expiry, issuer and audience of a token.
func (s *Service) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := gojwt.ParseWithClaims(token, claims, s.keyFunc, s.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return claims, nil
}

func (s *Service) keyFunc(token *gojwt.Token) (interface{}, error) {
	if token.Method.Alg() != s.cfg.signingMethod().Alg() {
		return nil, fmt.Errorf("auth: unexpected signing method %s", token.Method.Alg())
	}
	return s.verifyKey, nil
}

func (s *Service) parserOptions() []gojwt.ParserOption {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{s.cfg.signingMethod().Alg()}),
		gojwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, gojwt.WithAudience(s.cfg.Audience))
	}
	return opts
}

// Validator adapts the service to the HTTP auth middleware.
func (s *Service) Validator() middleware.TokenValidator {
	return func(token string) (string, map[string]any, error) {
		claims, err := s.Parse(token)
		if err != nil {
			return "", nil, err
		}
		return claims.Subject, map[string]any{"scopes": claims.Scopes}, nil
	}
}
