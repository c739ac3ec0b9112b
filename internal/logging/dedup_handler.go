package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// RepeatedKey carries the suppressed count on a dedup summary record.
const RepeatedKey = "repeated"

// DedupHandler suppresses identical records inside a window. The first
// occurrence is written immediately; later copies within the window are
// only counted, and one summary record with a "repeated" attribute is
// written when the window closes. A partition storm that makes every
// session log the same warning thus produces two lines instead of
// thousands.
//
// Identity is level, message, bound attributes and record attributes. The
// timestamp is ignored.
type DedupHandler struct {
	next  slog.Handler
	scope uint64 // hash of bound attrs and groups
	state *dedupState
}

type dedupState struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[uint64]*dedupEntry

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type dedupEntry struct {
	first    time.Time
	repeated int
	record   slog.Record
	handler  slog.Handler
}

func NewDedupHandler(next slog.Handler, window time.Duration) *DedupHandler {
	if window <= 0 {
		window = time.Second
	}
	st := &dedupState{
		window:  window,
		now:     time.Now,
		entries: make(map[uint64]*dedupEntry),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go st.sweepLoop()
	return &DedupHandler{next: next, state: st}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.key(r)
	st := h.state

	st.mu.Lock()
	if e, ok := st.entries[key]; ok && st.now().Sub(e.first) < st.window {
		e.repeated++
		e.record = r.Clone()
		st.mu.Unlock()
		return nil
	}
	prev := st.entries[key]
	st.entries[key] = &dedupEntry{first: st.now(), record: r.Clone(), handler: h.next}
	st.mu.Unlock()

	if prev != nil {
		prev.emit()
	}
	return h.next.Handle(ctx, r)
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	writeUint(d, h.scope)
	for _, a := range attrs {
		hashAttr(d, a)
	}
	return &DedupHandler{next: h.next.WithAttrs(attrs), scope: d.Sum64(), state: h.state}
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	d := xxhash.New()
	writeUint(d, h.scope)
	_, _ = d.WriteString("group:" + name)
	return &DedupHandler{next: h.next.WithGroup(name), scope: d.Sum64(), state: h.state}
}

// Close stops the sweeper and writes summaries for every open window.
func (h *DedupHandler) Close() error {
	st := h.state
	st.stopOnce.Do(func() {
		close(st.stop)
		<-st.stopped
		st.flush(true)
	})
	return nil
}

func (h *DedupHandler) key(r slog.Record) uint64 {
	d := xxhash.New()
	writeUint(d, h.scope)
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("\x00" + r.Message)
	r.Attrs(func(a slog.Attr) bool {
		hashAttr(d, a)
		return true
	})
	return d.Sum64()
}

func writeUint(d *xxhash.Digest, v uint64) {
	_, _ = d.WriteString(strconv.FormatUint(v, 16))
}

func hashAttr(d *xxhash.Digest, a slog.Attr) {
	_, _ = d.WriteString("\x00" + a.Key + "=" + a.Value.Resolve().String())
}

func (st *dedupState) sweepLoop() {
	defer close(st.stopped)
	ticker := time.NewTicker(st.window / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.flush(false)
		case <-st.stop:
			return
		}
	}
}

// flush removes expired windows, or all of them when all is set, and writes
// their summaries outside the lock.
func (st *dedupState) flush(all bool) {
	now := st.now()
	var due []*dedupEntry
	st.mu.Lock()
	for k, e := range st.entries {
		if all || now.Sub(e.first) >= st.window {
			delete(st.entries, k)
			due = append(due, e)
		}
	}
	st.mu.Unlock()
	for _, e := range due {
		e.emit()
	}
}

func (e *dedupEntry) emit() {
	if e.repeated == 0 {
		return
	}
	r := e.record.Clone()
	r.AddAttrs(slog.Int(RepeatedKey, e.repeated))
	_ = e.handler.Handle(context.Background(), r)
}
