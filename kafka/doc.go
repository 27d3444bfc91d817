// Package kafka wraps segmentio/kafka-go for taskflow's two streams:
// signed step-completion callbacks arriving from processors, and
// execution lifecycle events published for downstream consumers.
package kafka
