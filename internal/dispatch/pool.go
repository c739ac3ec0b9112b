// Package dispatch runs work on a fixed set of workers, routing every task
// with the same key to the same worker so tasks of one key execute one at a
// time in submission order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("dispatch: pool stopped")

// Config configures a Pool.
type Config struct {
	// Name tags log records.
	Name string
	// Workers is the number of workers. Defaults to 16.
	Workers int
	// QueueSize is the buffered queue length per worker. Defaults to 1000.
	QueueSize int
}

// Pool is a keyed worker pool.
type Pool struct {
	name    string
	logger  *slog.Logger
	queues  []chan func()
	wg      sync.WaitGroup
	pending atomic.Int64

	mu      sync.RWMutex
	stopped bool
	stop    chan struct{}
	// submits counts Submit calls between the stopped check and the send.
	submits sync.WaitGroup
}

// New starts a pool.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		name:   cfg.Name,
		logger: logger.With("component", "dispatch", "pool", cfg.Name),
		queues: make([]chan func(), cfg.Workers),
		stop:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), cfg.QueueSize)
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

// Submit queues task on the worker selected by key. It blocks while that
// worker's queue is full, until Stop is called.
func (p *Pool) Submit(key string, task func()) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrStopped
	}
	p.submits.Add(1)
	p.mu.RUnlock()
	defer p.submits.Done()

	p.pending.Add(1)
	select {
	case p.queues[p.worker(key)] <- task:
		return nil
	case <-p.stop:
		p.pending.Add(-1)
		return ErrStopped
	}
}

func (p *Pool) worker(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.queues)))
}

// Pending returns the number of queued and running tasks.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Workers returns the worker count.
func (p *Pool) Workers() int {
	return len(p.queues)
}

// Stop rejects new tasks and waits for queued ones to finish or ctx to end.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	// Blocked submitters give up once stop is closed; the queues can be
	// closed after the last of them returns.
	close(p.stop)
	p.submits.Wait()
	for _, q := range p.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("Stopped before draining", "pending", p.Pending())
		return ctx.Err()
	}
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	for task := range p.queues[id] {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task func()) {
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", "worker", id, "panic", r)
		}
	}()
	task()
}
