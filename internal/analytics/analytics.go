// Package analytics publishes usage events to Kafka. Without brokers every
// publish is a no-op.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/logging"
)

// Event names.
const (
	EventReplySent     = "reply_sent"
	EventReplyFallback = "reply_fallback"
	EventTaskAdded     = "task_added"
	EventTaskRemoved   = "task_removed"
)

// Event is one analytics record.
type Event struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes events to one topic.
type Sink struct {
	writer messageWriter
	topic  string
}

// New creates a sink for cfg. It never fails; a sink without brokers drops events.
func New(cfg config.AnalyticsConfig) *Sink {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 || cfg.Topic == "" {
		return &Sink{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 200 * time.Millisecond,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logging.Warnf("[analytics] dropped %d events: %v", len(messages), err)
			}
		},
	}
	logging.Infof("[analytics] publishing to %s on %v", cfg.Topic, brokers)
	return &Sink{writer: w, topic: cfg.Topic}
}

// Enabled reports whether events leave the process.
func (s *Sink) Enabled() bool {
	return s != nil && s.writer != nil
}

// Publish enqueues an event keyed by name. Delivery is asynchronous and
// failures are only logged.
func (s *Sink) Publish(ctx context.Context, name string, props map[string]any) {
	if !s.Enabled() {
		return
	}
	value, err := json.Marshal(Event{Name: name, Properties: props, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logging.Warnf("[analytics] encode %s: %v", name, err)
		return
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(name), Value: value}); err != nil {
		logging.Warnf("[analytics] publish %s: %v", name, err)
	}
}

func (s *Sink) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.writer.Close()
}
