package logging

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncWriterConfig sizes the AsyncWriter queue and batching.
type AsyncWriterConfig struct {
	QueueSize     int           // lines buffered before drops start
	BatchBytes    int           // write once this many bytes are pending
	FlushInterval time.Duration // upper bound on how long a line waits
}

func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		QueueSize:     8192,
		BatchBytes:    64 << 10,
		FlushInterval: 100 * time.Millisecond,
	}
}

// AsyncWriter moves file I/O off the logging goroutine. Lines are queued and
// written in batches by a single background goroutine. When the queue is
// full the line is dropped and counted instead of blocking the caller, so a
// slow disk never stalls the fan-out path.
type AsyncWriter struct {
	out io.Writer
	cfg AsyncWriterConfig

	lines   chan []byte
	flushes chan chan struct{}
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
}

func NewAsyncWriter(out io.Writer, cfg AsyncWriterConfig) *AsyncWriter {
	def := DefaultAsyncWriterConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchBytes <= 0 {
		cfg.BatchBytes = def.BatchBytes
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	w := &AsyncWriter{
		out:     out,
		cfg:     cfg,
		lines:   make(chan []byte, cfg.QueueSize),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Write queues a copy of p. It never blocks on the underlying writer.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	line := append([]byte(nil), p...)
	select {
	case w.lines <- line:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped reports how many lines were discarded because the queue was full.
func (w *AsyncWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Flush blocks until every line queued before the call has been written.
func (w *AsyncWriter) Flush() {
	ack := make(chan struct{})
	select {
	case w.flushes <- ack:
		<-ack
	case <-w.stopped:
	}
}

// Close drains the queue, writes what is left and closes the underlying
// writer when it is an io.Closer.
func (w *AsyncWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		<-w.stopped
		if c, ok := w.out.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (w *AsyncWriter) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	var buf bytes.Buffer
	write := func() {
		if buf.Len() > 0 {
			_, _ = w.out.Write(buf.Bytes())
			buf.Reset()
		}
	}
	drain := func() {
		for {
			select {
			case line := <-w.lines:
				buf.Write(line)
			default:
				return
			}
		}
	}

	for {
		select {
		case line := <-w.lines:
			buf.Write(line)
			if buf.Len() >= w.cfg.BatchBytes {
				write()
			}
		case <-ticker.C:
			write()
		case ack := <-w.flushes:
			drain()
			write()
			close(ack)
		case <-w.done:
			drain()
			write()
			return
		}
	}
}
