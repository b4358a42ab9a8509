package streaming

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/world"
)

func TestSchedulerPriorityOrder(t *testing.T) {
	s := NewScheduler()
	for i, p := range []int{9, 1, 5, 3} {
		require.True(t, s.Enqueue(world.ChunkCoord{X: i}, p, world.TierFull))
	}

	var got []int
	for i := 0; i < 4; i++ {
		req, ok := s.Dequeue()
		require.True(t, ok)
		got = append(got, req.Priority)
	}
	assert.Equal(t, []int{1, 3, 5, 9}, got)
}

func TestSchedulerEqualPriorityIsFIFO(t *testing.T) {
	s := NewScheduler()
	for i := 0; i < 5; i++ {
		s.Enqueue(world.ChunkCoord{X: i}, 4, world.TierMeshOnly)
	}
	for i := 0; i < 5; i++ {
		req, ok := s.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, req.Coord.X)
	}
}

func TestSchedulerNoDuplicateInFlight(t *testing.T) {
	s := NewScheduler()
	coord := world.ChunkCoord{X: 3, Y: -1, Z: 7}

	const callers = 64
	var accepted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.Enqueue(coord, 1, world.TierFull) {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1, s.Len())

	req, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, coord, req.Coord)

	// Запрос у воркера: координата всё ещё в работе
	assert.True(t, s.InFlight(coord))
	assert.False(t, s.Enqueue(coord, 1, world.TierFull))

	s.Complete(coord)
	assert.False(t, s.InFlight(coord))
	assert.True(t, s.Enqueue(coord, 1, world.TierFull))
}

func TestSchedulerCloseWakesWaiters(t *testing.T) {
	s := NewScheduler()

	const waiters = 4
	done := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, ok := s.Dequeue()
			done <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	s.Close()

	for i := 0; i < waiters; i++ {
		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("Dequeue не проснулся после Close")
		}
	}
	assert.False(t, s.Enqueue(world.ChunkCoord{}, 0, world.TierFull))
}

func TestSchedulerCloseClearsQueuedRequests(t *testing.T) {
	s := NewScheduler()
	s.Enqueue(world.ChunkCoord{X: 1}, 1, world.TierFull)
	s.Enqueue(world.ChunkCoord{X: 2}, 2, world.TierFull)
	req, ok := s.Dequeue()
	require.True(t, ok)

	s.Close()

	// Запрос, взятый воркером, снимет с учёта сам воркер
	assert.Equal(t, 1, s.InFlightCount())
	assert.True(t, s.InFlight(req.Coord))
	s.Complete(req.Coord)
	assert.Equal(t, 0, s.InFlightCount())
}
