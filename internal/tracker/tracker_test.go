package tracker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenflow-backend/internal/model"
)

// recordingSink collects appended partial logs.
type recordingSink struct {
	mu      sync.Mutex
	entries []model.PartialLog
	err     error
}

func (r *recordingSink) AppendPartialLog(_ context.Context, entry *model.PartialLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *recordingSink) Entries() []model.PartialLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PartialLog(nil), r.entries...)
}

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func TestTracker_StartsAway(t *testing.T) {
	tr := New(&recordingSink{})
	assert.Equal(t, model.StatusAway, tr.CurrentStatus())
	assert.Equal(t, DefaultDebounce, tr.Debounce())
}

func TestTracker_FirstPresentSampleDoesNotLog(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	status, err := tr.Observe(context.Background(), true, t0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAtDesk, status)
	assert.Empty(t, sink.Entries())
}

func TestTracker_Transitions(t *testing.T) {
	testCases := []struct {
		name        string
		absence     time.Duration
		wantEntries int
	}{
		{name: "short absence is noise", absence: 2 * time.Second, wantEntries: 0},
		{name: "absence at the threshold is noise", absence: 5 * time.Second, wantEntries: 0},
		{name: "absence just over the threshold is logged", absence: 5*time.Second + time.Millisecond, wantEntries: 1},
		{name: "long absence is logged", absence: 10 * time.Second, wantEntries: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			tr := New(sink)
			ctx := context.Background()

			t1 := t0.Add(time.Second)
			t2 := t1.Add(tc.absence)

			var got []model.PresenceStatus
			for _, s := range []struct {
				present bool
				at      time.Time
			}{{true, t0}, {false, t1}, {true, t2}} {
				status, err := tr.Observe(ctx, s.present, s.at)
				require.NoError(t, err)
				got = append(got, status)
			}

			assert.Equal(t, []model.PresenceStatus{model.StatusAtDesk, model.StatusAway, model.StatusAtDesk}, got)
			entries := sink.Entries()
			require.Len(t, entries, tc.wantEntries)
			if tc.wantEntries == 1 {
				assert.True(t, entries[0].AwayStart.Equal(t1))
				assert.True(t, entries[0].AwayEnd.Equal(t2))
				assert.InDelta(t, tc.absence.Seconds(), entries[0].DurationSeconds, 1e-9)
				assert.Equal(t, "2026-10-19", entries[0].SessionDate)
			}
		})
	}
}

func TestTracker_RepeatedSamplesAreNoops(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)
	ctx := context.Background()

	_, _ = tr.Observe(ctx, true, t0)
	_, _ = tr.Observe(ctx, true, t0.Add(time.Second))
	_, _ = tr.Observe(ctx, false, t0.Add(2*time.Second))
	// Staying away must not move the start of the absence.
	_, _ = tr.Observe(ctx, false, t0.Add(20*time.Second))
	status, err := tr.Observe(ctx, true, t0.Add(32*time.Second))
	require.NoError(t, err)

	assert.Equal(t, model.StatusAtDesk, status)
	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.InDelta(t, 30.0, entries[0].DurationSeconds, 1e-9)
}

func TestTracker_ConfigurableDebounce(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink, WithDebounce(time.Second))
	ctx := context.Background()

	_, _ = tr.Observe(ctx, true, t0)
	_, _ = tr.Observe(ctx, false, t0.Add(time.Second))
	_, _ = tr.Observe(ctx, true, t0.Add(3*time.Second))

	assert.Len(t, sink.Entries(), 1)
}

func TestTracker_SessionDateUsesLocation(t *testing.T) {
	sink := &recordingSink{}
	loc := time.FixedZone("UTC+8", 8*60*60)
	tr := New(sink, WithLocation(loc))
	ctx := context.Background()

	// 20:00 UTC on the 18th is already the 19th at UTC+8.
	start := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	_, _ = tr.Observe(ctx, true, start.Add(-time.Second))
	_, _ = tr.Observe(ctx, false, start)
	_, _ = tr.Observe(ctx, true, start.Add(time.Minute))

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-10-19", entries[0].SessionDate)
}

func TestTracker_SinkErrorKeepsTransition(t *testing.T) {
	sink := &recordingSink{err: errors.New("database is locked")}
	tr := New(sink)
	ctx := context.Background()

	_, _ = tr.Observe(ctx, true, t0)
	_, _ = tr.Observe(ctx, false, t0.Add(time.Second))
	status, err := tr.Observe(ctx, true, t0.Add(time.Minute))

	assert.Error(t, err)
	assert.Equal(t, model.StatusAtDesk, status)
	assert.Equal(t, model.StatusAtDesk, tr.CurrentStatus())

	// The failed absence is not replayed on the next transition.
	sink.err = nil
	_, _ = tr.Observe(ctx, false, t0.Add(2*time.Minute))
	_, err = tr.Observe(ctx, true, t0.Add(2*time.Minute+time.Second))
	assert.NoError(t, err)
	assert.Empty(t, sink.Entries())
}

func TestTracker_NilSink(t *testing.T) {
	tr := New(nil)
	ctx := context.Background()

	_, _ = tr.Observe(ctx, true, t0)
	_, _ = tr.Observe(ctx, false, t0.Add(time.Second))
	status, err := tr.Observe(ctx, true, t0.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, model.StatusAtDesk, status)
}

func TestTracker_InvariantViolationPanics(t *testing.T) {
	tr := New(nil)
	since := t0
	tr.status = model.StatusAtDesk
	tr.awaySince = &since

	assert.PanicsWithValue(t, ErrStateInvariant, func() {
		_, _ = tr.Observe(context.Background(), true, t0.Add(time.Second))
	})
}

func TestTracker_StatusFollowsLatestSample(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		sink := &recordingSink{}
		tr := New(sink)
		now := t0
		awayFrom := time.Time{}
		wantLogs := 0
		prev := model.StatusAway

		for i := 0; i < 200; i++ {
			now = now.Add(time.Duration(rng.Intn(4000)) * time.Millisecond)
			present := rng.Intn(3) != 0

			status, err := tr.Observe(context.Background(), present, now)
			require.NoError(t, err)

			if present {
				require.Equal(t, model.StatusAtDesk, status)
				if prev == model.StatusAway && !awayFrom.IsZero() && now.Sub(awayFrom) > DefaultDebounce {
					wantLogs++
				}
				awayFrom = time.Time{}
			} else {
				require.Equal(t, model.StatusAway, status)
				if prev == model.StatusAtDesk {
					awayFrom = now
				}
			}
			prev = status
		}
		assert.Len(t, sink.Entries(), wantLogs)
	}
}

func TestTracker_ConcurrentReads(t *testing.T) {
	tr := New(&recordingSink{})
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s := tr.CurrentStatus()
					if s != model.StatusAtDesk && s != model.StatusAway {
						t.Errorf("unexpected status %q", s)
						return
					}
				}
			}
		}()
	}

	now := t0
	for i := 0; i < 1000; i++ {
		now = now.Add(time.Second)
		_, _ = tr.Observe(ctx, i%7 != 0, now)
	}
	close(stop)
	wg.Wait()
}
