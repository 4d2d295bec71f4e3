package dxp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamBuffer_ReadExactBuffered(t *testing.T) {
	b := newStreamBuffer()
	b.Feed([]byte("hello"))

	got, err := b.ReadExact(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(got))
	assert.Equal(t, 2, b.Len())
}

func TestStreamBuffer_ReadExactWaitsForData(t *testing.T) {
	b := newStreamBuffer()

	result := make(chan []byte, 1)
	go func() {
		got, err := b.ReadExact(context.Background(), 4)
		if err == nil {
			result <- got
		}
	}()

	b.Feed([]byte("ab"))
	select {
	case <-result:
		t.Fatal("read resolved before enough bytes arrived")
	case <-time.After(20 * time.Millisecond):
	}

	b.Feed([]byte("cdef"))
	select {
	case got := <-result:
		assert.Equal(t, "abcd", string(got))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read")
	}
	assert.Equal(t, 2, b.Len())
}

func TestStreamBuffer_FIFOOrder(t *testing.T) {
	b := newStreamBuffer()

	order := make(chan string, 2)
	read := func(tag string, n int) {
		got, err := b.ReadExact(context.Background(), n)
		if err != nil {
			order <- tag + ":" + err.Error()
			return
		}
		order <- tag + ":" + string(got)
	}

	go read("first", 2)
	waitPending(t, b, 1)
	go read("second", 3)
	waitPending(t, b, 2)

	// One chunk satisfies both reads at once.
	b.Feed([]byte("12345"))

	assert.Equal(t, "first:12", <-order)
	assert.Equal(t, "second:345", <-order)
}

func TestStreamBuffer_LaterReadDoesNotOvertake(t *testing.T) {
	b := newStreamBuffer()

	done := make(chan []byte, 1)
	go func() {
		got, _ := b.ReadExact(context.Background(), 4)
		done <- got
	}()
	waitPending(t, b, 1)

	b.Feed([]byte("x"))

	// One byte is buffered but the queued read comes first.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.ReadExact(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	b.Feed([]byte("yzw"))
	assert.Equal(t, "xyzw", string(<-done))
}

func TestStreamBuffer_ReadAvailable(t *testing.T) {
	b := newStreamBuffer()
	assert.Nil(t, b.ReadAvailable(10))

	b.Feed([]byte("chat text"))
	assert.Equal(t, "chat", string(b.ReadAvailable(4)))
	assert.Equal(t, " text", string(b.ReadAvailable(126)))
	assert.Equal(t, 0, b.Len())
}

func TestStreamBuffer_Unread(t *testing.T) {
	b := newStreamBuffer()
	b.Feed([]byte("XM"))

	op, err := b.ReadExact(context.Background(), 1)
	require.NoError(t, err)
	b.Unread(op)

	got, err := b.ReadExact(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "XM", string(got))
}

func TestStreamBuffer_UnreadServesPending(t *testing.T) {
	b := newStreamBuffer()

	done := make(chan []byte, 1)
	go func() {
		got, _ := b.ReadExact(context.Background(), 1)
		done <- got
	}()
	waitPending(t, b, 1)

	b.Unread([]byte("Q"))
	assert.Equal(t, "Q", string(<-done))
}

func TestStreamBuffer_ChunkedFeed(t *testing.T) {
	b := newStreamBuffer()
	payload := []byte("abcdefghij")

	done := make(chan []byte, 1)
	go func() {
		got, _ := b.ReadExact(context.Background(), len(payload))
		done <- got
	}()

	for i := range payload {
		b.Feed(payload[i : i+1])
	}

	select {
	case got := <-done:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read")
	}
}

func TestStreamBuffer_ContextCancel(t *testing.T) {
	b := newStreamBuffer()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.ReadExact(ctx, 5)
		errCh <- err
	}()
	waitPending(t, b, 1)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// The withdrawn read must not swallow later data.
	b.Feed([]byte("ab"))
	got, err := b.ReadExact(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(got))
}

func TestStreamBuffer_Close(t *testing.T) {
	b := newStreamBuffer()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.ReadExact(context.Background(), 5)
		errCh <- err
	}()
	waitPending(t, b, 1)

	b.Close(ErrConnectionClosed)
	assert.ErrorIs(t, <-errCh, ErrConnectionClosed)

	_, err := b.ReadExact(context.Background(), 1)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	b.Feed([]byte("ignored"))
	assert.Equal(t, 0, b.Len())

	b.Close(nil)
	_, err = b.ReadExact(context.Background(), 1)
	assert.ErrorIs(t, err, ErrConnectionClosed, "first close error is kept")
}

func TestStreamBuffer_NegativeLength(t *testing.T) {
	b := newStreamBuffer()
	_, err := b.ReadExact(context.Background(), -1)
	assert.Error(t, err)
}

func waitPending(t *testing.T, b *streamBuffer, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.pending) == n
	}, time.Second, time.Millisecond)
}
