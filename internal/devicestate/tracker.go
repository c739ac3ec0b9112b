// Package devicestate forwards inactivity-timeout changes observed in the
// telemetry stream to the device-liveness service.
package devicestate

import (
	"log/slog"

	"github.com/syntrixbase/fanout/internal/codec"
	"github.com/syntrixbase/fanout/pkg/model"
)

// InactivityTimeoutKey is the telemetry or server attribute key holding a
// device's inactivity timeout in milliseconds.
const InactivityTimeoutKey = "inactivityTimeout"

// Tracker receives inactivity-timeout changes. A timeout of 0 means the
// device falls back to the platform default.
type Tracker interface {
	OnInactivityTimeoutUpdate(tenantID model.TenantID, deviceID model.EntityID, timeout int64)
}

// Sender is the part of *outbox.Outbox the tracker needs.
type Sender interface {
	Send(key, topic string, msg codec.Message) error
}

// QueueTracker sends changes to the device-state topic.
type QueueTracker struct {
	sender Sender
	topic  string
	logger *slog.Logger
}

// NewQueueTracker creates a tracker publishing to topic.
func NewQueueTracker(sender Sender, topic string, logger *slog.Logger) *QueueTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueTracker{
		sender: sender,
		topic:  topic,
		logger: logger.With("component", "devicestate"),
	}
}

func (t *QueueTracker) OnInactivityTimeoutUpdate(tenantID model.TenantID, deviceID model.EntityID, timeout int64) {
	msg := &codec.InactivityTimeout{TenantID: tenantID, DeviceID: deviceID, Timeout: timeout}
	// Keyed by device so successive changes stay ordered.
	if err := t.sender.Send(deviceID.ID.String(), t.topic, msg); err != nil {
		t.logger.Error("Failed to send inactivity timeout",
			"tenant", tenantID.String(), "device", deviceID.String(), "timeout", timeout, "error", err)
		return
	}
	t.logger.Debug("Inactivity timeout forwarded", "device", deviceID.String(), "timeout", timeout)
}
