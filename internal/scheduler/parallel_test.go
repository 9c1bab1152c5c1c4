package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackConcurrency returns a handler that records the peak number of
// concurrent executions.
func trackConcurrency(peak *atomic.Int32, hold time.Duration) func(context.Context, any) (any, error) {
	var current atomic.Int32
	return func(ctx context.Context, content any) (any, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(hold)
		return nil, nil
	}
}

func TestMaxConcurrentBoundsExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	sch, ms, r := newTestScheduler(t, cfg)
	ctx := context.Background()

	var peak atomic.Int32
	registerAction(t, r, "work", trackConcurrency(&peak, 30*time.Millisecond))

	for i := 0; i < 6; i++ {
		_, err := sch.ScheduleTask(ctx, "", "work", i, 0)
		require.NoError(t, err)
	}
	require.NoError(t, sch.PollTasks(ctx))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(6), sch.GetStats().Executed)

	pending, err := ms.ListTasks(ctx, "pending")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPerHandlerLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 8
	cfg.ByHandler = map[string]int{"slow": 1}
	sch, _, r := newTestScheduler(t, cfg)
	ctx := context.Background()

	var peak atomic.Int32
	registerAction(t, r, "slow", trackConcurrency(&peak, 20*time.Millisecond))

	for i := 0; i < 4; i++ {
		_, err := sch.ScheduleTask(ctx, "", "slow", i, 0)
		require.NoError(t, err)
	}
	require.NoError(t, sch.PollTasks(ctx))
	assert.Equal(t, int32(1), peak.Load())
}

func TestOverlappingPollIsSkipped(t *testing.T) {
	sch, _, r := newTestScheduler(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	registerAction(t, r, "block", func(ctx context.Context, content any) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	_, err := sch.ScheduleTask(ctx, "", "block", nil, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, sch.PollTasks(ctx))
	}()

	<-started
	assert.ErrorIs(t, sch.PollTasks(ctx), ErrPollInProgress)
	close(release)
	wg.Wait()

	stats := sch.GetStats()
	assert.Equal(t, int64(1), stats.Polls)
	assert.Equal(t, int64(1), stats.SkippedPolls)
	assert.Equal(t, int64(1), stats.Executed)
}

func TestConcurrentPollsClaimEachTaskOnce(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := ms.CreateTask(ctx, "", fmt.Sprintf("h%d", i), "", time.Now(), 0)
		require.NoError(t, err)
	}

	due, err := ms.FindDueTasks(ctx, time.Now())
	require.NoError(t, err)

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, task := range due {
				if ms.MarkRunning(ctx, task.ID) == nil {
					claimed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), claimed.Load())
}
