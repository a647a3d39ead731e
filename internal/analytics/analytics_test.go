package analytics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/logging"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestSinkWithoutBrokersDrops(t *testing.T) {
	s := New(config.AnalyticsConfig{Topic: "events"})
	assert.False(t, s.Enabled())
	s.Publish(context.Background(), EventReplySent, nil)
	assert.NoError(t, s.Close())

	var nilSink *Sink
	nilSink.Publish(context.Background(), EventTaskAdded, nil)
}

func TestSinkPublishesKeyedEvents(t *testing.T) {
	logging.Disable()
	w := &recordingWriter{}
	s := &Sink{writer: w, topic: "events"}

	s.Publish(context.Background(), EventReplyFallback, map[string]any{"platform_id": "pdd"})
	require.Len(t, w.msgs, 1)
	assert.Equal(t, EventReplyFallback, string(w.msgs[0].Key))

	var e Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &e))
	assert.Equal(t, EventReplyFallback, e.Name)
	assert.Equal(t, "pdd", e.Properties["platform_id"])
	assert.NotZero(t, e.Timestamp)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNewWithBrokers(t *testing.T) {
	logging.Disable()
	s := New(config.AnalyticsConfig{Brokers: "127.0.0.1:9092, ", Topic: "events", ClientID: "test"})
	require.True(t, s.Enabled())
	kw, ok := s.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "events", kw.Topic)
	assert.True(t, kw.Async)
	assert.NoError(t, s.Close())
}
