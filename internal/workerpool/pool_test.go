package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(3)
	var inFlight, peak atomic.Int64
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func() error {
				n := inFlight.Add(1)
				mu.Lock()
				if n > peak.Load() {
					peak.Store(n)
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int64(3))
}

func TestPoolRespectsCancellation(t *testing.T) {
	p := New(1)
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
