package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

func receive(t *testing.T, ch <-chan pubsub.Message) pubsub.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, ch <-chan pubsub.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %s", msg.Subject())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	engine := New()
	assert.False(t, engine.IsClosed())

	pub, err := engine.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)
	require.NotNil(t, pub)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
	assert.True(t, engine.IsClosed())

	_, err = engine.NewPublisher(pubsub.PublisherOptions{})
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = engine.NewConsumer(pubsub.ConsumerOptions{})
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, pub.Publish(context.Background(), "a", nil), ErrEngineClosed)
}

func TestBroker_FilterSubjects(t *testing.T) {
	engine := New()
	defer engine.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := engine.NewConsumer(pubsub.ConsumerOptions{
		FilterSubjects: []string{"tb.core.1", "tb.notifications.node-a"},
	})
	require.NoError(t, err)
	msgCh, err := consumer.Subscribe(ctx)
	require.NoError(t, err)

	pub, err := engine.NewPublisher(pubsub.PublisherOptions{SubjectPrefix: "tb"})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, "core.2", []byte("other partition")))
	require.NoError(t, pub.Publish(ctx, "core.1", []byte("owned")))
	require.NoError(t, pub.Publish(ctx, "notifications.node-a", []byte("update")))

	msg := receive(t, msgCh)
	assert.Equal(t, "tb.core.1", msg.Subject())
	assert.Equal(t, []byte("owned"), msg.Data())
	require.NoError(t, msg.Ack())

	msg = receive(t, msgCh)
	assert.Equal(t, "tb.notifications.node-a", msg.Subject())
	assertNoMessage(t, msgCh)
}

func TestConsumer_DefaultPatterns(t *testing.T) {
	assert.Equal(t, []string{"tb.>"}, (&memoryConsumer{opts: pubsub.ConsumerOptions{StreamSubjects: []string{"tb.>"}, StreamName: "FANOUT"}}).patterns())
	assert.Equal(t, []string{"FANOUT.>"}, (&memoryConsumer{opts: pubsub.ConsumerOptions{StreamName: "FANOUT"}}).patterns())
	assert.Equal(t, []string{">"}, (&memoryConsumer{}).patterns())
}

func TestBroker_FanOutToEverySubscriber(t *testing.T) {
	engine := New()
	defer engine.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var channels []<-chan pubsub.Message
	for i := 0; i < 2; i++ {
		c, err := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubjects: []string{"tb.core.*"}})
		require.NoError(t, err)
		ch, err := c.Subscribe(ctx)
		require.NoError(t, err)
		channels = append(channels, ch)
	}
	assert.Equal(t, 2, engine.Subscribers())

	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, pub.Publish(ctx, "tb.core.3", []byte("x")))
	for _, ch := range channels {
		assert.Equal(t, "tb.core.3", receive(t, ch).Subject())
	}
}

func TestBroker_PreservesOrderPerSubject(t *testing.T) {
	engine := New()
	defer engine.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubjects: []string{"tb.core.0"}, ChannelBufSize: 4})
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{})
	go func() {
		for i := 0; i < 50; i++ {
			_ = pub.Publish(ctx, "tb.core.0", []byte{byte(i)})
		}
	}()

	for i := 0; i < 50; i++ {
		msg := receive(t, ch)
		assert.Equal(t, []byte{byte(i)}, msg.Data())
		_ = msg.Ack()
	}
}

func TestConsumer_ContextCancelClosesChannel(t *testing.T) {
	engine := New()
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{})
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return engine.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroker_UnsubscribeWhilePublisherBlocked(t *testing.T) {
	engine := New()
	defer engine.Close()

	subCtx, cancelSub := context.WithCancel(context.Background())
	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubjects: []string{"a"}, ChannelBufSize: 1})
	_, err := c.Subscribe(subCtx)
	require.NoError(t, err)

	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, pub.Publish(context.Background(), "a", nil))

	done := make(chan error, 1)
	go func() {
		// The buffer is full so this blocks until the subscriber goes away.
		done <- pub.Publish(context.Background(), "a", nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancelSub()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stayed blocked after unsubscribe")
	}
}

func TestPublisher_ContextCancel(t *testing.T) {
	engine := New()
	defer engine.Close()

	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubjects: []string{"a"}, ChannelBufSize: 1})
	_, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, pub.Publish(context.Background(), "a", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pub.Publish(ctx, "a", nil), context.DeadlineExceeded)
}

func TestPublisher_OnPublish(t *testing.T) {
	engine := New()
	defer engine.Close()

	var mu sync.Mutex
	var subjects []string
	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{
		SubjectPrefix: "tb",
		OnPublish: func(subject string, err error, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			subjects = append(subjects, subject)
		},
	})
	require.NoError(t, pub.Publish(context.Background(), "core.1", nil))
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish(context.Background(), "core.1", nil), ErrEngineClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tb.core.1"}, subjects)
}

func TestMessage_Settlement(t *testing.T) {
	engine := New()
	defer engine.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubjects: []string{"a"}})
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{})

	require.NoError(t, pub.Publish(ctx, "a", []byte("x")))
	msg := receive(t, ch)
	md, err := msg.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), md.NumDelivered)
	assert.Equal(t, "a", md.Subject)

	// Nak redelivers on the same channel.
	require.NoError(t, msg.Nak())
	again := receive(t, ch)
	md, _ = again.Metadata()
	assert.Equal(t, uint64(2), md.NumDelivered)

	// Once acked, further settlement is a no-op.
	require.NoError(t, again.Ack())
	require.NoError(t, again.Nak())
	require.NoError(t, again.Term())
	assertNoMessage(t, ch)
}

func TestMessage_NakWithDelay(t *testing.T) {
	engine := New()
	defer engine.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubjects: []string{"a"}})
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	pub, _ := engine.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, pub.Publish(ctx, "a", []byte("x")))

	msg := receive(t, ch)
	start := time.Now()
	require.NoError(t, msg.NakWithDelay(30*time.Millisecond))
	again := receive(t, ch)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, []byte("x"), again.Data())
}

func TestEngine_CloseClosesSubscriptions(t *testing.T) {
	engine := New()
	c, _ := engine.NewConsumer(pubsub.ConsumerOptions{})
	ch, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	_, ok := <-ch
	assert.False(t, ok)

	_, err = c.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
}
