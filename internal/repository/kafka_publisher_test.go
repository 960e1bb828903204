package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	key   []byte
	value interface{}
}

type fakeProducer struct {
	msgs   []published
	closed int
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.msgs = append(f.msgs, published{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed++
	return nil
}

func TestKafkaPublisherRoutesToTopic(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, "finpilot.notifications")

	require.NoError(t, p.Publish(context.Background(), "run-1", map[string]string{"title": "x"}))
	require.NoError(t, p.Publish(context.Background(), "", "plain"))
	require.NoError(t, p.PublishMessage(context.Background(), "", []string{"log"}))
	require.NoError(t, p.PublishMessage(context.Background(), "finpilot.logs", []string{"log"}))

	require.Len(t, fp.msgs, 4)
	assert.Equal(t, "finpilot.notifications", fp.msgs[0].topic)
	assert.Equal(t, []byte("run-1"), fp.msgs[0].key)
	assert.Nil(t, fp.msgs[1].key)
	assert.Equal(t, "finpilot.notifications", fp.msgs[2].topic)
	assert.Equal(t, "finpilot.logs", fp.msgs[3].topic)

	require.NoError(t, p.Close())
	assert.Equal(t, 1, fp.closed)
}
