package stats_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nilszeilon/keystr/internal/domain"
	"github.com/nilszeilon/keystr/internal/stats"
)

var errNotMonotonic = errors.New("snapshot total went backwards")

func TestIncrementCreatesBuckets(t *testing.T) {
	t.Parallel()

	e := stats.NewEngine()
	day1 := time.Date(2025, 10, 7, 9, 0, 0, 0, time.Local)
	day2 := day1.Add(24 * time.Hour)

	for i := 0; i < 100; i++ {
		e.Increment(day1)
	}
	e.Increment(day2)

	snap := e.Snapshot()
	require.EqualValues(t, 101, snap.Total)
	require.EqualValues(t, 100, snap.Daily["2025-10-07"])
	require.EqualValues(t, 1, snap.Daily["2025-10-08"])
	require.EqualValues(t, 100, snap.Weekly("2025-10-07"))
}

func TestConcurrentIncrementAndSnapshot(t *testing.T) {
	t.Parallel()

	const (
		writers   = 8
		perWriter = 2000
	)
	e := stats.NewEngine()
	base := time.Date(2025, 10, 7, 12, 0, 0, 0, time.Local)

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				// Spread writes over several days to exercise bucket creation.
				e.Increment(base.Add(time.Duration((w+i)%3) * 24 * time.Hour))
			}
		}(w)
	}

	readerErr := make(chan error, 1)
	go func() {
		var last uint64
		for {
			select {
			case <-done:
				readerErr <- nil
				return
			default:
			}
			snap := e.Snapshot()
			if err := snap.Validate(); err != nil {
				readerErr <- err
				return
			}
			if snap.Total < last {
				readerErr <- errNotMonotonic
				return
			}
			last = snap.Total
		}
	}()

	wg.Wait()
	close(done)
	require.NoError(t, <-readerErr)

	snap := e.Snapshot()
	require.EqualValues(t, writers*perWriter, snap.Total)
	require.Equal(t, snap.Total, snap.Sum())
}

func TestSnapshotIsIsolated(t *testing.T) {
	t.Parallel()

	e := stats.NewEngine()
	e.Increment(time.Now())
	snap := e.Snapshot()
	e.Increment(time.Now())

	require.EqualValues(t, 1, snap.Total)
	require.EqualValues(t, 2, e.Snapshot().Total)
}

func TestLoadAndReset(t *testing.T) {
	t.Parallel()

	e := stats.NewEngine()
	rec := domain.Record{Total: 3, Daily: map[domain.Date]uint64{"2025-10-06": 1, "2025-10-07": 2}}
	e.Load(rec)

	// Mutating the source after Load must not leak into the engine.
	rec.Daily["2025-10-07"] = 99
	require.EqualValues(t, 2, e.Snapshot().Daily["2025-10-07"])

	gen := e.Generation()
	e.Reset()
	require.Greater(t, e.Generation(), gen)

	snap := e.Snapshot()
	require.Zero(t, snap.Total)
	require.Empty(t, snap.Daily)
	require.NotNil(t, snap.Daily)
}

func TestGenerationTracksMutations(t *testing.T) {
	t.Parallel()

	e := stats.NewEngine()
	_, g0 := e.SnapshotGeneration()
	_ = e.Snapshot()
	require.Equal(t, g0, e.Generation())

	e.Increment(time.Now())
	_, g1 := e.SnapshotGeneration()
	require.Equal(t, g0+1, g1)
}
