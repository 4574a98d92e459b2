// Package tracker turns raw presence samples into a debounced desk status.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"zenflow-backend/internal/model"
)

// DefaultDebounce is the shortest absence that gets logged.
const DefaultDebounce = 5 * time.Second

// ErrStateInvariant marks an impossible tracker state. Observe panics with it.
var ErrStateInvariant = errors.New("tracker: state invariant violated")

// PartialLogSink receives completed absences.
type PartialLogSink interface {
	AppendPartialLog(ctx context.Context, entry *model.PartialLog) error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.debounce = d
		}
	}
}

// WithLocation sets the zone used to derive a partial log's session date.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// Tracker is the presence state machine. Observe is its only mutator and is
// expected to be driven by a single sampling loop; CurrentStatus may be called
// from any goroutine.
type Tracker struct {
	sink     PartialLogSink
	debounce time.Duration
	loc      *time.Location

	mu        sync.RWMutex
	status    model.PresenceStatus
	awaySince *time.Time
}

// New creates a Tracker in the Away state.
func New(sink PartialLogSink, opts ...Option) *Tracker {
	t := &Tracker{
		sink:     sink,
		debounce: DefaultDebounce,
		loc:      time.Local,
		status:   model.StatusAway,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CurrentStatus returns the status after the most recent Observe.
func (t *Tracker) CurrentStatus() model.PresenceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Debounce returns the configured debounce threshold.
func (t *Tracker) Debounce() time.Duration {
	return t.debounce
}

// Observe feeds one presence sample into the state machine and returns the
// resulting status. When an absence longer than the debounce threshold ends,
// the absence is appended to the sink after the state has been updated; a
// sink error is returned alongside the new status and does not undo the
// transition.
func (t *Tracker) Observe(ctx context.Context, present bool, now time.Time) (model.PresenceStatus, error) {
	status, entry := t.transition(present, now)
	if entry == nil || t.sink == nil {
		return status, nil
	}
	return status, t.sink.AppendPartialLog(ctx, entry)
}

func (t *Tracker) transition(present bool, now time.Time) (model.PresenceStatus, *model.PartialLog) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == model.StatusAtDesk && t.awaySince != nil {
		panic(ErrStateInvariant)
	}

	var entry *model.PartialLog
	switch {
	case present && t.status == model.StatusAway:
		if t.awaySince != nil {
			if d := now.Sub(*t.awaySince); d > t.debounce {
				start := *t.awaySince
				entry = &model.PartialLog{
					SessionDate:     start.In(t.loc).Format(model.DateLayout),
					AwayStart:       start,
					AwayEnd:         now,
					DurationSeconds: d.Seconds(),
				}
			}
		}
		t.status = model.StatusAtDesk
		t.awaySince = nil
	case !present && t.status == model.StatusAtDesk:
		since := now
		t.status = model.StatusAway
		t.awaySince = &since
	}
	return t.status, entry
}
