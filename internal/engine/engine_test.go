package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/wemod/internal/accessory"
	"github.com/dokzlo13/wemod/internal/transport"
)

type stubAdapter struct {
	id string

	mu        sync.Mutex
	received  []Attribute
	refreshes atomic.Int32
	closed    bool
}

func (s *stubAdapter) ID() string                      { return s.id }
func (s *stubAdapter) Accessory() *accessory.Accessory { return nil }
func (s *stubAdapter) RequestRefresh(context.Context)  { s.refreshes.Add(1) }

func (s *stubAdapter) Receive(attr Attribute) {
	s.mu.Lock()
	s.received = append(s.received, attr)
	s.mu.Unlock()
}

func (s *stubAdapter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureClass
	}{
		{fmt.Errorf("send: %w", transport.ErrTimeout), FailureTimeout},
		{fmt.Errorf("send: %w", transport.ErrUnreachable), FailureUnreachable},
		{transport.ErrNoService, FailureNoService},
		{errors.New("bad xml"), FailureOther},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != FailureOther, got.Expected())
		})
	}
}

func TestAttributeInt(t *testing.T) {
	v, err := Attribute{Name: "BinaryState", Value: "8|1617000000|0"}.Int()
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	v, err = Attribute{Name: "brightness", Value: " 42 "}.Int()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Attribute{Name: "mode", Value: "warm"}.Int()
	assert.Error(t, err)
}

func TestCached(t *testing.T) {
	var c Cached[int]
	assert.False(t, c.Is(0), "empty cache matches nothing")

	c.Set(0)
	assert.True(t, c.Is(0))
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	b := &stubAdapter{id: "b"}
	a := &stubAdapter{id: "a"}
	r.Add(b)
	r.Add(a)

	assert.Equal(t, []string{"a", "b"}, []string{r.All()[0].ID(), r.All()[1].ID()})

	attrs := []Attribute{{Name: "BinaryState", Value: "1"}, {Name: "brightness", Value: "40"}}
	assert.True(t, r.Dispatch("a", attrs))
	assert.False(t, r.Dispatch("missing", attrs))
	assert.Equal(t, attrs, a.received)
	assert.Empty(t, b.received)

	r.Close()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestPollerRefreshesAdapters(t *testing.T) {
	p := NewPoller(10 * time.Millisecond)
	a := &stubAdapter{id: "a"}
	b := &stubAdapter{id: "b"}
	p.Add(a)
	p.Add(b)
	assert.Equal(t, 2, p.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return a.refreshes.Load() >= 2 && b.refreshes.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// blockingAdapter holds every refresh until released.
type blockingAdapter struct {
	stubAdapter
	release chan struct{}
}

func (b *blockingAdapter) RequestRefresh(ctx context.Context) {
	b.refreshes.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
}

func TestPollerSkipsAdapterStillRefreshing(t *testing.T) {
	p := NewPoller(5 * time.Millisecond)
	slow := &blockingAdapter{stubAdapter: stubAdapter{id: "slow"}, release: make(chan struct{})}
	fast := &stubAdapter{id: "fast"}
	p.Add(slow)
	p.Add(fast)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return fast.refreshes.Load() >= 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), slow.refreshes.Load())

	close(slow.release)
	assert.Eventually(t, func() bool { return slow.refreshes.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestBaseFailSchedulesRevert(t *testing.T) {
	b := NewBase(Identity{ID: "dev", Name: "Lamp", Kind: "switch"}, transport.Ref{}, nil, Timing{Revert: 20 * time.Millisecond})
	defer b.Close()

	on := b.Accessory().Add(accessory.On, accessory.Bool())
	on.Update(1)

	err := b.Fail(fmt.Errorf("post: %w", transport.ErrTimeout), on, 0)
	assert.ErrorIs(t, err, accessory.ErrNotResponding)
	assert.True(t, b.Reverter().Pending(accessory.On))

	b.Confirmed(on, 1)
	assert.False(t, b.Reverter().Pending(accessory.On))
	assert.Equal(t, 1.0, on.Confirmed())
}

func TestTimingDefaults(t *testing.T) {
	got := Timing{Settle: time.Second}.WithDefaults(Timing{Settle: 5, LevelSettle: 6, Revert: 7, Fetch: 8})
	assert.Equal(t, Timing{Settle: time.Second, LevelSettle: 6, Revert: 7, Fetch: 8}, got)
}
