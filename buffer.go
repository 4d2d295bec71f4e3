package dxp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrBufferClosed is returned by reads on a buffer that was closed without a
// more specific cause.
var ErrBufferClosed = errors.New("stream buffer closed")

// pendingRead is one outstanding request for exactly n bytes.
type pendingRead struct {
	n      int
	result chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// streamBuffer accumulates bytes arriving from the transport and serves
// exact-length reads in the order they were requested.
//
// Bytes are appended at the tail by Feed and consumed from the head by
// ReadExact and ReadAvailable. Unread puts bytes back at the head.
type streamBuffer struct {
	mu      sync.Mutex
	buf     []byte
	pending []*pendingRead
	err     error
}

func newStreamBuffer() *streamBuffer {
	return &streamBuffer{}
}

// Feed appends p to the buffer and resolves queued reads, oldest first,
// for as long as the head of the queue can be satisfied. A single Feed may
// therefore resolve several reads, not only the oldest one; a later read is
// still never served before an earlier one.
func (b *streamBuffer) Feed(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return
	}
	b.buf = append(b.buf, p...)
	b.serveLocked()
}

// ReadExact blocks until exactly n bytes are available, then removes and
// returns them. A read never overtakes an earlier queued read even if the
// buffer already holds enough bytes for it.
func (b *streamBuffer) ReadExact(ctx context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Errorf("stream buffer: negative read length %d", n)
	}

	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return nil, err
	}
	if len(b.pending) == 0 && len(b.buf) >= n {
		data := b.takeLocked(n)
		b.mu.Unlock()
		return data, nil
	}

	pr := &pendingRead{n: n, result: make(chan readResult, 1)}
	b.pending = append(b.pending, pr)
	b.mu.Unlock()

	select {
	case res := <-pr.result:
		return res.data, res.err
	case <-ctx.Done():
		b.mu.Lock()
		removed := b.removeLocked(pr)
		b.mu.Unlock()
		if removed {
			return nil, ctx.Err()
		}
		// Served concurrently with the cancellation; the bytes are ours.
		res := <-pr.result
		return res.data, res.err
	}
}

// ReadAvailable returns up to max buffered bytes without waiting. It does not
// queue and does not respect pending reads, so callers must only use it while
// they are the sole consumer.
func (b *streamBuffer) ReadAvailable(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 || len(b.buf) == 0 {
		return nil
	}
	if max > len(b.buf) {
		max = len(b.buf)
	}
	return b.takeLocked(max)
}

// Unread prepends p back onto the head of the buffer.
func (b *streamBuffer) Unread(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return
	}
	head := make([]byte, 0, len(p)+len(b.buf))
	head = append(head, p...)
	b.buf = append(head, b.buf...)
	b.serveLocked()
}

// Len returns the number of buffered bytes.
func (b *streamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close fails every pending read with err and makes the buffer reject further
// reads. Later feeds are dropped. Closing twice keeps the first error.
func (b *streamBuffer) Close(err error) {
	if err == nil {
		err = ErrBufferClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return
	}
	b.err = err
	for _, pr := range b.pending {
		pr.result <- readResult{err: err}
	}
	b.pending = nil
}

func (b *streamBuffer) serveLocked() {
	for len(b.pending) > 0 {
		head := b.pending[0]
		if len(b.buf) < head.n {
			return
		}
		b.pending[0] = nil
		b.pending = b.pending[1:]
		head.result <- readResult{data: b.takeLocked(head.n)}
	}
}

func (b *streamBuffer) takeLocked(n int) []byte {
	data := make([]byte, n)
	copy(data, b.buf[:n])
	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return data
}

func (b *streamBuffer) removeLocked(pr *pendingRead) bool {
	for i, p := range b.pending {
		if p == pr {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}
	return false
}
