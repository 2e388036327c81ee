package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readerMock replays results in order, then blocks until the context ends.
type readerMock struct {
	mu      sync.Mutex
	results []error
	values  [][]byte
	reads   int
}

func (m *readerMock) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	m.reads++
	if len(m.results) > 0 {
		err, value := m.results[0], m.values[0]
		m.results, m.values = m.results[1:], m.values[1:]
		m.mu.Unlock()
		return kafka.Message{Value: value}, err
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *readerMock) Close() error { return nil }

func (m *readerMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// failingReader never delivers a message.
type failingReader struct {
	mu    sync.Mutex
	reads int
}

func (f *failingReader) ReadMessage(context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return kafka.Message{}, errors.New("broker unreachable")
}

func (f *failingReader) Close() error { return nil }

func (f *failingReader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type refresherMock struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *refresherMock) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *refresherMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestHandle(t *testing.T) {
	refresher := &refresherMock{}
	p := &Poller{refresher: refresher, logger: slog.Default()}
	ctx := context.Background()

	assert.NoError(t, p.handle(ctx, []byte(`{"product_id": 7, "type": "stock_changed"}`)))
	assert.Equal(t, 1, refresher.calls)

	assert.ErrorContains(t, p.handle(ctx, []byte(`{"product_id":`)), "error parsing message")
	assert.ErrorContains(t, p.handle(ctx, []byte(`{"type": "deleted"}`)), "product_id")
	assert.Equal(t, 1, refresher.calls)

	refresher.err = errors.New("store down")
	assert.ErrorContains(t, p.handle(ctx, []byte(`{"product_id": 7}`)), "store down")
}

func TestRun_BacksOffOnReadErrors(t *testing.T) {
	reader := &failingReader{}
	p := &Poller{reader: reader, refresher: &refresherMock{}, logger: slog.Default(),
		minBackoff: 20 * time.Millisecond, maxBackoff: 80 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	// 20+40+80+80... fits at most a handful of reads in 300ms
	assert.GreaterOrEqual(t, reader.count(), 2)
	assert.LessOrEqual(t, reader.count(), 8)
}

func TestRun_RecoversAfterReadError(t *testing.T) {
	refresher := &refresherMock{}
	reader := &readerMock{
		results: []error{errors.New("leader not available"), nil},
		values:  [][]byte{nil, []byte(`{"product_id": 7, "type": "stock_changed"}`)},
	}
	p := &Poller{reader: reader, refresher: refresher, logger: slog.Default(),
		minBackoff: time.Millisecond, maxBackoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return refresher.count() == 1 }, time.Second, time.Millisecond)
	// the failed read, the event, then a read parked until cancel
	require.Eventually(t, func() bool { return reader.count() == 3 }, time.Second, time.Millisecond)
}
