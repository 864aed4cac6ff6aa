/*Package audit records which organization queried which internal tables
through the proxy.

Events are published to a Kafka topic keyed by organization, so all events
of an organization land in the same partition in order. Without brokers,
the Nop recorder is used.
*/
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/dbproxy/core/logger"
)

// Event describes one proxied request
type Event struct {
	RequestID      string    `json:"request_id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	Method         string    `json:"method"`
	Tables         []string  `json:"tables,omitempty"`
	Status         int       `json:"status"`
	DurationMS     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// Recorder records audit events. Record must not block on I/O.
type Recorder interface {
	Record(ctx context.Context, e Event)
	Close() error
}

// Nop discards all events
type Nop struct{}

// Record implements Recorder
func (Nop) Record(context.Context, Event) {}

// Close implements Recorder
func (Nop) Close() error { return nil }

// messageWriter is the part of kafka.Writer we use
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes events to a Kafka topic
type KafkaRecorder struct {
	writer messageWriter
}

// NewKafkaRecorder creates an asynchronous recorder on the given brokers and topic
func NewKafkaRecorder(brokers []string, topic string) *KafkaRecorder {
	rlog := logger.Default()
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				rlog.WithError(err).Warnf("lost %d audit events", len(messages))
			}
		},
	}
	return &KafkaRecorder{writer: w}
}

// Message encodes an event as Kafka message
func Message(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.OrganizationID),
		Value: value,
		Time:  e.Timestamp,
	}, nil
}

// Record implements Recorder
func (k *KafkaRecorder) Record(ctx context.Context, e Event) {
	rlog := logger.FromContext(ctx)
	msg, err := Message(e)
	if err != nil {
		rlog.WithError(err).Errorln("cannot encode audit event")
		return
	}
	// the request context may already be cancelled, the writer is asynchronous anyway
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		rlog.WithError(err).Warnln("cannot publish audit event")
	}
}

// Close flushes pending events and closes the writer
func (k *KafkaRecorder) Close() error {
	return k.writer.Close()
}
