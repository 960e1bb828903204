package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishEncodesJSON(t *testing.T) {
	initProducerMetrics()
	w := &recordingWriter{}
	p := &Producer{writer: w, comp: "gzip"}

	err := p.Publish(context.Background(), "notify", []byte("k"), map[string]string{"title": "hi"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "notify", w.msgs[0].Topic)
	assert.Equal(t, []byte("k"), w.msgs[0].Key)
	assert.JSONEq(t, `{"title":"hi"}`, string(w.msgs[0].Value))
}

func TestPublishPassesRawBytes(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w}

	require.NoError(t, p.Publish(context.Background(), "t", nil, "plain"))
	assert.Equal(t, []byte("plain"), w.msgs[0].Value)
}

func TestPublishWrapsWriterError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := &Producer{writer: w}

	err := p.Publish(context.Background(), "t", nil, "x")
	assert.ErrorContains(t, err, "publish to t")
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
