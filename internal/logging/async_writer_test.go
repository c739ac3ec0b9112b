package logging

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncWriter_FlushAndClose(t *testing.T) {
	out := &lockedBuffer{}
	w := NewAsyncWriter(out, AsyncWriterConfig{FlushInterval: time.Hour})

	for _, line := range []string{"one\n", "two\n"} {
		n, err := w.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
	w.Flush()
	assert.Equal(t, "one\ntwo\n", out.String())

	_, _ = w.Write([]byte("three\n"))
	require.NoError(t, w.Close())
	assert.Equal(t, "one\ntwo\nthree\n", out.String())
	assert.True(t, out.closed)

	_, err := w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	require.NoError(t, w.Close(), "close is idempotent")
	w.Flush()
}

func TestAsyncWriter_FlushInterval(t *testing.T) {
	out := &lockedBuffer{}
	w := NewAsyncWriter(out, AsyncWriterConfig{FlushInterval: 10 * time.Millisecond})
	defer w.Close()

	_, _ = w.Write([]byte("tick\n"))
	assert.Eventually(t, func() bool { return out.String() == "tick\n" }, time.Second, 5*time.Millisecond)
}

// gateWriter blocks every write until released.
type gateWriter struct {
	lockedBuffer
	entered chan struct{}
	release chan struct{}
}

func (g *gateWriter) Write(p []byte) (int, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.lockedBuffer.Write(p)
}

func TestAsyncWriter_DropsWhenFull(t *testing.T) {
	out := &gateWriter{entered: make(chan struct{}, 10), release: make(chan struct{})}
	w := NewAsyncWriter(out, AsyncWriterConfig{QueueSize: 1, BatchBytes: 1, FlushInterval: time.Hour})

	_, _ = w.Write([]byte("a\n"))
	<-out.entered // the writer goroutine is now stuck on "a"

	for _, line := range []string{"b\n", "c\n", "d\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err, "a full queue never fails the caller")
	}
	assert.Equal(t, uint64(2), w.Dropped())

	close(out.release)
	require.NoError(t, w.Close())
	assert.Equal(t, "a\nb\n", out.String())
	assert.False(t, strings.Contains(out.String(), "c"))
}
