package kafka

import (
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is a transport-neutral view of a Kafka record.
type Message struct {
	Key       string
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string
}

func fromKafkaMessage(msg kafkago.Message) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Headers:   headers,
	}
}

func (m Message) toKafkaMessage() kafkago.Message {
	headers := make([]kafkago.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return kafkago.Message{
		Key:     []byte(m.Key),
		Value:   m.Value,
		Topic:   m.Topic,
		Time:    m.Timestamp,
		Headers: headers,
	}
}

// DecodeJSON unmarshals the message value into v.
func (m Message) DecodeJSON(v interface{}) error {
	return json.Unmarshal(m.Value, v)
}
