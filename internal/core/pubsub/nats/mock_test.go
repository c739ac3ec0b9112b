package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/mock"
)

// result unpacks a (T, error) pair from testify arguments, allowing a nil T.
func result[T any](args mock.Arguments) (T, error) {
	var zero T
	if v := args.Get(0); v != nil {
		return v.(T), args.Error(1)
	}
	return zero, args.Error(1)
}

type jsMock struct {
	mock.Mock
}

func (m *jsMock) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	return result[jetstream.Stream](m.Called(ctx, cfg))
}

func (m *jsMock) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	return result[jetstream.Consumer](m.Called(ctx, stream, cfg))
}

func (m *jsMock) Publish(ctx context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	return result[*jetstream.PubAck](m.Called(ctx, subject, data))
}

// consumerMock captures the handler passed to Consume so a test can feed
// messages as the pull loop would.
type consumerMock struct {
	mock.Mock
	jetstream.Consumer
	handlers chan jetstream.MessageHandler
}

func newConsumerMock() *consumerMock {
	return &consumerMock{handlers: make(chan jetstream.MessageHandler, 1)}
}

func (m *consumerMock) Consume(handler jetstream.MessageHandler, _ ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	select {
	case m.handlers <- handler:
	default:
	}
	return result[jetstream.ConsumeContext](m.Called(handler))
}

type consumeCtxMock struct {
	mock.Mock
	jetstream.ConsumeContext
}

func (m *consumeCtxMock) Stop() {
	m.Called()
}

// msgMock implements the settlement and metadata parts of jetstream.Msg.
type msgMock struct {
	mock.Mock
	jetstream.Msg
	subject string
	data    []byte
}

func newMsgMock(subject string, data []byte) *msgMock {
	return &msgMock{subject: subject, data: data}
}

func (m *msgMock) Data() []byte    { return m.data }
func (m *msgMock) Subject() string { return m.subject }

func (m *msgMock) Ack() error  { return m.Called().Error(0) }
func (m *msgMock) Nak() error  { return m.Called().Error(0) }
func (m *msgMock) Term() error { return m.Called().Error(0) }

func (m *msgMock) NakWithDelay(d time.Duration) error {
	return m.Called(d).Error(0)
}

func (m *msgMock) Metadata() (*jetstream.MsgMetadata, error) {
	return result[*jetstream.MsgMetadata](m.Called())
}
