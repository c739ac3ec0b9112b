package devicestate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/pkg/model"
)

type sent struct {
	key, topic string
	msg        codec.Message
}

type recordingSender struct {
	sent []sent
	err  error
}

func (r *recordingSender) Send(key, topic string, msg codec.Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{key: key, topic: topic, msg: msg})
	return nil
}

func TestQueueTracker_Forwards(t *testing.T) {
	sender := &recordingSender{}
	tracker := NewQueueTracker(sender, "fanout.device_state", nil)
	tenant := model.NewTenantID()
	dev := model.NewEntityID(model.EntityTypeDevice)

	tracker.OnInactivityTimeoutUpdate(tenant, dev, 60000)
	tracker.OnInactivityTimeoutUpdate(tenant, dev, 0)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "fanout.device_state", sender.sent[0].topic)
	assert.Equal(t, dev.ID.String(), sender.sent[0].key)
	assert.Equal(t, &codec.InactivityTimeout{TenantID: tenant, DeviceID: dev, Timeout: 60000}, sender.sent[0].msg)
	assert.Equal(t, int64(0), sender.sent[1].msg.(*codec.InactivityTimeout).Timeout)
}

func TestQueueTracker_SendErrorIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("stopped")}
	tracker := NewQueueTracker(sender, "fanout.device_state", nil)

	assert.NotPanics(t, func() {
		tracker.OnInactivityTimeoutUpdate(model.NewTenantID(), model.NewEntityID(model.EntityTypeDevice), 1)
	})
	assert.Empty(t, sender.sent)
}
