package manager

import (
	"context"
	"sort"

	"github.com/syntrixbase/fanout/internal/core/storage"
	"github.com/syntrixbase/fanout/internal/metrics"
	"github.com/syntrixbase/fanout/internal/subscription"
	"github.com/syntrixbase/fanout/pkg/model"
)

// runCatchUps drains catch-up fetches one at a time.
func (m *Manager) runCatchUps(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.catchUps:
			fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.CatchUpTimeout)
			task(fetchCtx)
			cancel()
		}
	}
}

func (m *Manager) scheduleCatchUp(sub subscription.Subscription) {
	var task func(context.Context)
	switch s := sub.(type) {
	case *subscription.TimeseriesSubscription:
		task = func(ctx context.Context) { m.catchUpTimeseries(ctx, s) }
	case *subscription.AttributesSubscription:
		task = func(ctx context.Context) { m.catchUpAttributes(ctx, s) }
	default:
		// Alarms and notifications have nothing to backfill.
		return
	}

	select {
	case m.catchUps <- task:
	default:
		metrics.CatchUps.WithLabelValues(sub.Type().String(), "dropped").Inc()
		b := sub.Common()
		m.logger.Warn("Catch-up queue is full, skipping backfill",
			"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID, "entity", b.EntityID.String())
	}
}

// historyQueries builds one query per tracked key covering
// [max(start, watermark+1), min(end, now)]. Keys whose watermark is not
// behind now are skipped.
func historyQueries(s *subscription.TimeseriesSubscription, now int64, limit int) []storage.ReadTsKvQuery {
	states := s.KeyStates.Snapshot()
	keys := s.KeyStates.Keys()
	queries := make([]storage.ReadTsKvQuery, 0, len(keys))
	for _, key := range keys {
		ws := states[key]
		if now <= ws {
			continue
		}
		start := ws + 1
		if s.StartTime > 0 && s.StartTime > start {
			start = s.StartTime
		}
		end := now
		if s.EndTime > 0 && s.EndTime < end {
			end = s.EndTime
		}
		queries = append(queries, storage.ReadTsKvQuery{Key: key, StartTs: start, EndTs: end, Limit: limit})
	}
	return queries
}

func (m *Manager) catchUpTimeseries(ctx context.Context, s *subscription.TimeseriesSubscription) {
	if !m.isCurrent(s) {
		return
	}
	var (
		entries []model.TsKvEntry
		err     error
	)
	if s.LatestValues {
		var keys []string
		if !s.AllKeys {
			if keys = s.KeyStates.Keys(); len(keys) == 0 {
				return
			}
		}
		entries, err = m.tsReader.FindLatest(ctx, s.TenantID, s.EntityID, keys)
	} else {
		queries := historyQueries(s, m.now(), m.cfg.HistoryLimit)
		if len(queries) == 0 {
			return
		}
		entries, err = m.tsReader.FindAll(ctx, s.TenantID, s.EntityID, queries)
	}
	if err != nil {
		m.catchUpFailed(s, err)
		return
	}

	// Stores return history newest first; watermarks need it oldest first.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Ts < entries[j].Ts })
	m.serialize(s, func() { m.catchUpDeliver(s, s.SelectTimeseries(entries)) })
}

func (m *Manager) catchUpAttributes(ctx context.Context, s *subscription.AttributesSubscription) {
	if !m.isCurrent(s) {
		return
	}
	var keys []string
	if !s.AllKeys {
		if keys = s.KeyStates.Keys(); len(keys) == 0 {
			return
		}
	}
	attrs, err := m.attrReader.Find(ctx, s.TenantID, s.EntityID, s.Scope, keys)
	if err != nil {
		m.catchUpFailed(s, err)
		return
	}
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].LastUpdateTs < attrs[j].LastUpdateTs })
	m.serialize(s, func() { m.catchUpDeliver(s, s.SelectAttributes(s.Scope, attrs)) })
}

func (m *Manager) catchUpDeliver(sub subscription.Subscription, missed []model.TsKvEntry) {
	if len(missed) == 0 {
		metrics.CatchUps.WithLabelValues(sub.Type().String(), "empty").Inc()
		return
	}
	metrics.CatchUps.WithLabelValues(sub.Type().String(), "delivered").Inc()
	m.deliverTelemetry(sub, missed, true)
}

func (m *Manager) catchUpFailed(sub subscription.Subscription, err error) {
	metrics.CatchUps.WithLabelValues(sub.Type().String(), "error").Inc()
	b := sub.Common()
	m.logger.Error("Failed to fetch missed updates",
		"sessionID", b.SessionID, "subscriptionID", b.SubscriptionID, "entity", b.EntityID.String(), "error", err)
}
