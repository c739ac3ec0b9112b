package nats

import (
	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/fanout/internal/core/pubsub"
)

// message exposes a jetstream.Msg as a pubsub.Message. Settlement calls
// pass straight through; only Metadata changes shape.
type message struct {
	jetstream.Msg
}

// WrapMessage adapts msg to pubsub.Message.
func WrapMessage(msg jetstream.Msg) pubsub.Message {
	return message{Msg: msg}
}

func (m message) Metadata() (pubsub.MessageMetadata, error) {
	md, err := m.Msg.Metadata()
	if err != nil {
		return pubsub.MessageMetadata{}, err
	}
	return pubsub.MessageMetadata{
		NumDelivered: md.NumDelivered,
		Timestamp:    md.Timestamp,
		Subject:      m.Subject(),
		Stream:       md.Stream,
		Consumer:     md.Consumer,
	}, nil
}
