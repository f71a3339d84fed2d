package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	log "github.com/chatpad-dev/chatpad/internal/logging"
)

// Reader wraps an HTTP response body with context-aware cancellation:
// when ctx fires, the body is closed immediately so a blocked Read
// unwinds instead of waiting for the next chunk.
type Reader struct {
	body      io.ReadCloser
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewReader starts watching ctx and returns the wrapped body.
func NewReader(ctx context.Context, body io.ReadCloser) *Reader {
	r := &Reader{body: body, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			r.closeWith("context cancelled")
		case <-r.done:
		}
	}()
	return r
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, io.EOF
	}
	return r.body.Read(p)
}

// Close implements io.Closer. Safe to call multiple times.
func (r *Reader) Close() error {
	r.closeWith("explicit close")
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	return r.closeErr
}

func (r *Reader) closeWith(reason string) {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.body.Close()
		log.Debugf("stream: reader closed: %s", reason)
	})
}
