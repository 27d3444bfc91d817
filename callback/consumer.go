package callback

import (
	"context"

	"github.com/kbukum/taskflow/errors"
	"github.com/kbukum/taskflow/kafka"
	"github.com/kbukum/taskflow/logger"
)

// KafkaHandler processes callback envelopes from a Kafka topic. The
// message value is the envelope JSON; signature headers, when present,
// override the body's fields. Rejected and duplicate messages are committed;
// only dedupe store failures are returned for redelivery.
func (g *Gateway) KafkaHandler() kafka.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var env Envelope
		if err := msg.DecodeJSON(&env); err != nil {
			g.metrics.record(SourceKafka, OutcomeRejected)
			g.log.Warn("malformed callback message", logger.Fields("offset", msg.Offset, logger.FieldError, err.Error()))
			return nil
		}
		if v, ok := msg.Headers[HeaderSignature]; ok {
			env.Signature = v
		}
		if v, ok := msg.Headers[HeaderTimestamp]; ok {
			if ts, err := ParseTimestamp(v); err == nil {
				env.Timestamp = ts
			}
		}
		if env.TaskID == "" {
			env.TaskID = msg.Key
		}

		_, err := g.accept(ctx, SourceKafka, env)
		if errors.HasCode(err, errors.ErrCodeServiceUnavailable) {
			return err
		}
		return nil
	}
}
