package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

type connStub struct {
	closed bool
}

func (c *connStub) Close() { c.closed = true }

func TestProvider_NotConnected(t *testing.T) {
	p := NewProvider("nats://localhost:4222", "node-a")

	_, err := p.NewPublisher(pubsub.PublisherOptions{StreamName: "FANOUT"})
	assert.ErrorIs(t, err, errNotConnected)

	_, err = p.NewConsumer(pubsub.ConsumerOptions{StreamName: "FANOUT"})
	assert.ErrorIs(t, err, errNotConnected)

	require.NoError(t, p.Close())
}

func TestProvider_Connect(t *testing.T) {
	nc := &connStub{}
	js := new(jsMock)
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, nil)

	p := NewProvider("nats://queue:4222", "node-a")
	p.dial = func(url, name string) (conn, JetStream, error) {
		assert.Equal(t, "nats://queue:4222", url)
		assert.Equal(t, "node-a", name)
		return nc, js, nil
	}

	require.NoError(t, p.Connect(context.Background()))
	_, err := p.NewPublisher(pubsub.PublisherOptions{StreamName: "FANOUT", SubjectPrefix: "tb"})
	require.NoError(t, err)
	_, err = p.NewConsumer(pubsub.ConsumerOptions{StreamName: "FANOUT"})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, nc.closed)
	_, err = p.NewPublisher(pubsub.PublisherOptions{})
	assert.ErrorIs(t, err, errNotConnected)
	require.NoError(t, p.Close())
}

func TestProvider_Connect_Errors(t *testing.T) {
	p := NewProvider("nats://queue:4222", "node-a")
	p.dial = func(string, string) (conn, JetStream, error) {
		return nil, nil, errors.New("refused")
	}
	err := p.Connect(context.Background())
	assert.ErrorContains(t, err, "failed to connect to NATS at nats://queue:4222")
	assert.ErrorContains(t, err, "refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Connect(ctx), context.Canceled)
}

func TestNewPublisher_EnsuresStream(t *testing.T) {
	js := new(jsMock)
	js.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "FANOUT" &&
			len(cfg.Subjects) == 1 && cfg.Subjects[0] == "tb.>" &&
			cfg.Storage == jetstream.FileStorage &&
			cfg.MaxAge == time.Minute
	})).Return(nil, nil)

	pub, err := NewPublisher(js, pubsub.PublisherOptions{
		StreamName:    "FANOUT",
		SubjectPrefix: "tb",
		Storage:       pubsub.FileStorage,
		MaxAge:        time.Minute,
	})
	require.NoError(t, err)
	assert.NotNil(t, pub)
	js.AssertExpectations(t)
}

func TestNewPublisher_Errors(t *testing.T) {
	_, err := NewPublisher(nil, pubsub.PublisherOptions{})
	assert.ErrorContains(t, err, "jetstream cannot be nil")

	js := new(jsMock)
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("stream error"))
	_, err = NewPublisher(js, pubsub.PublisherOptions{StreamName: "FANOUT"})
	assert.ErrorContains(t, err, "stream error")
}

func TestPublisher_Publish(t *testing.T) {
	js := new(jsMock)
	js.On("Publish", mock.Anything, "tb.core.3", []byte("payload")).Return(&jetstream.PubAck{}, nil).Once()
	js.On("Publish", mock.Anything, "tb.core.4", mock.Anything).Return(nil, errors.New("no responders")).Once()

	var published []string
	pub, err := NewPublisher(js, pubsub.PublisherOptions{
		SubjectPrefix: "tb",
		RetryAttempts: 2,
		OnPublish: func(subject string, err error, _ time.Duration) {
			published = append(published, subject)
		},
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), "core.3", []byte("payload")))
	err = pub.Publish(context.Background(), "core.4", []byte("payload"))
	assert.ErrorContains(t, err, "failed to publish to tb.core.4")

	assert.Equal(t, []string{"tb.core.3", "tb.core.4"}, published)
	assert.NoError(t, pub.Close())
	js.AssertExpectations(t)
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(nil, pubsub.ConsumerOptions{})
	assert.ErrorContains(t, err, "jetstream cannot be nil")

	_, err = NewConsumer(new(jsMock), pubsub.ConsumerOptions{})
	assert.ErrorContains(t, err, "stream name is required")

	c, err := NewConsumer(new(jsMock), pubsub.ConsumerOptions{StreamName: "FANOUT"})
	require.NoError(t, err)
	assert.Equal(t, 100, c.(*jetStreamConsumer).opts.ChannelBufSize)
}

func TestConsumer_ConsumerConfig(t *testing.T) {
	c := &jetStreamConsumer{opts: pubsub.ConsumerOptions{ConsumerName: "node-a", FilterSubjects: []string{"tb.core.1"}}}
	cfg := c.consumerConfig()
	assert.Equal(t, "node-a", cfg.Durable)
	assert.Equal(t, "tb.core.1", cfg.FilterSubject)
	assert.Empty(t, cfg.FilterSubjects)
	assert.Equal(t, jetstream.DeliverNewPolicy, cfg.DeliverPolicy)

	c.opts.FilterSubjects = []string{"tb.core.1", "tb.notifications.node-a"}
	cfg = c.consumerConfig()
	assert.Empty(t, cfg.FilterSubject)
	assert.Equal(t, []string{"tb.core.1", "tb.notifications.node-a"}, cfg.FilterSubjects)

	c.opts = pubsub.ConsumerOptions{}
	assert.Equal(t, "consumer", c.consumerConfig().Durable)
}

func TestConsumer_Subscribe(t *testing.T) {
	js := new(jsMock)
	cons := newConsumerMock()
	cc := new(consumeCtxMock)

	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, nil)
	js.On("CreateOrUpdateConsumer", mock.Anything, "FANOUT", mock.MatchedBy(func(cfg jetstream.ConsumerConfig) bool {
		return cfg.Durable == "node-a" && cfg.AckPolicy == jetstream.AckExplicitPolicy
	})).Return(cons, nil)
	cons.On("Consume", mock.Anything).Return(cc, nil)
	cc.On("Stop").Return()

	c, err := NewConsumer(js, pubsub.ConsumerOptions{
		StreamName:     "FANOUT",
		StreamSubjects: []string{"tb.>"},
		ConsumerName:   "node-a",
		FilterSubjects: []string{"tb.notifications.node-a"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	msgCh, err := c.Subscribe(ctx)
	require.NoError(t, err)

	handler := <-cons.handlers
	raw := newMsgMock("tb.notifications.node-a", []byte("hello"))
	raw.On("Ack").Return(nil)
	handler(raw)

	select {
	case msg := <-msgCh:
		assert.Equal(t, "tb.notifications.node-a", msg.Subject())
		assert.Equal(t, []byte("hello"), msg.Data())
		require.NoError(t, msg.Ack())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-msgCh
		return !ok
	}, time.Second, 10*time.Millisecond)

	// Late deliveries after shutdown are handed back to the broker.
	late := newMsgMock("tb.notifications.node-a", []byte("late"))
	late.On("Nak").Return(nil)
	handler(late)
	late.AssertCalled(t, "Nak")

	raw.AssertExpectations(t)
	cc.AssertExpectations(t)
}

func TestConsumer_Subscribe_Errors(t *testing.T) {
	js := new(jsMock)
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("stream error")).Once()

	c, err := NewConsumer(js, pubsub.ConsumerOptions{StreamName: "FANOUT"})
	require.NoError(t, err)
	_, err = c.Subscribe(context.Background())
	assert.ErrorContains(t, err, "stream error")

	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, nil)
	js.On("CreateOrUpdateConsumer", mock.Anything, "FANOUT", mock.Anything).Return(nil, errors.New("consumer error")).Once()
	_, err = c.Subscribe(context.Background())
	assert.ErrorContains(t, err, "failed to create consumer")

	cons := newConsumerMock()
	cons.On("Consume", mock.Anything).Return(nil, errors.New("consume error"))
	js.On("CreateOrUpdateConsumer", mock.Anything, "FANOUT", mock.Anything).Return(cons, nil)
	_, err = c.Subscribe(context.Background())
	assert.ErrorContains(t, err, "failed to start consumer")
}

func TestWrapMessage_Metadata(t *testing.T) {
	raw := newMsgMock("tb.core.1", []byte("x"))
	now := time.Now()
	raw.On("Metadata").Return(&jetstream.MsgMetadata{NumDelivered: 2, Timestamp: now, Stream: "FANOUT", Consumer: "node-a"}, nil).Once()
	raw.On("Metadata").Return(nil, errors.New("not a jetstream message")).Once()
	raw.On("Term").Return(nil)
	raw.On("NakWithDelay", time.Second).Return(nil)

	msg := WrapMessage(raw)
	md, err := msg.Metadata()
	require.NoError(t, err)
	assert.Equal(t, pubsub.MessageMetadata{NumDelivered: 2, Timestamp: now, Subject: "tb.core.1", Stream: "FANOUT", Consumer: "node-a"}, md)

	_, err = msg.Metadata()
	assert.Error(t, err)

	assert.NoError(t, msg.Term())
	assert.NoError(t, msg.NakWithDelay(time.Second))
	raw.AssertExpectations(t)
}
