package dataplane

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/fanout/internal/core/storage"
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// Service persists writes and then publishes them to subscribers.
type Service struct {
	timeseries storage.TimeseriesWriter
	attributes storage.AttributesWriter
	listener   subscription.DataListener
	logger     *slog.Logger
}

func NewService(ts storage.TimeseriesWriter, attrs storage.AttributesWriter, listener subscription.DataListener, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		timeseries: ts,
		attributes: attrs,
		listener:   listener,
		logger:     logger.With("component", "dataplane"),
	}
}

// SaveTimeseries stores entries and notifies subscribers of the entity.
func (s *Service) SaveTimeseries(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, entries []model.TsKvEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.timeseries.Save(ctx, tenantID, entityID, entries); err != nil {
		return fmt.Errorf("save timeseries of %s: %w", entityID, err)
	}
	s.listener.OnTimeSeriesUpdate(tenantID, entityID, entries)
	return nil
}

// DeleteTimeseries removes keys and notifies subscribers of the entity.
func (s *Service) DeleteTimeseries(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.timeseries.Remove(ctx, tenantID, entityID, keys); err != nil {
		return fmt.Errorf("delete timeseries of %s: %w", entityID, err)
	}
	s.listener.OnTimeSeriesDelete(tenantID, entityID, keys)
	return nil
}

// SaveAttributes stores attributes in a concrete scope.
func (s *Service) SaveAttributes(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, attrs []model.AttributeKvEntry) error {
	if scope == model.ScopeAny {
		return model.Invalidf("attributes must be saved in a concrete scope")
	}
	if len(attrs) == 0 {
		return nil
	}
	if err := s.attributes.Save(ctx, tenantID, entityID, scope, attrs); err != nil {
		return fmt.Errorf("save attributes of %s: %w", entityID, err)
	}
	s.listener.OnAttributesUpdate(tenantID, entityID, scope, attrs)
	return nil
}

// DeleteAttributes removes attributes. ScopeAny removes them everywhere.
func (s *Service) DeleteAttributes(ctx context.Context, tenantID model.TenantID, entityID model.EntityID, scope model.AttributeScope, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.attributes.Remove(ctx, tenantID, entityID, scope, keys); err != nil {
		return fmt.Errorf("delete attributes of %s: %w", entityID, err)
	}
	s.listener.OnAttributesDelete(tenantID, entityID, scope, keys)
	return nil
}

// PublishAlarm forwards an alarm change. Alarms are not stored here.
func (s *Service) PublishAlarm(tenantID model.TenantID, alarm *model.AlarmInfo, deleted bool) error {
	if alarm == nil {
		return model.Invalidf("alarm is required")
	}
	if deleted {
		s.listener.OnAlarmDeleted(tenantID, alarm.Originator, alarm)
	} else {
		s.listener.OnAlarmUpdate(tenantID, alarm.Originator, alarm)
	}
	return nil
}

// PublishNotification forwards a notification change for one recipient.
func (s *Service) PublishNotification(tenantID model.TenantID, recipientID model.EntityID, update model.NotificationUpdate) {
	s.listener.OnNotificationUpdate(tenantID, recipientID, update)
}

// PublishNotificationRequest forwards a request change to every node.
func (s *Service) PublishNotificationRequest(tenantID model.TenantID, update model.NotificationRequestUpdate) {
	s.listener.OnNotificationRequestUpdate(tenantID, update)
}
