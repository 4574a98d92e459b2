// Package sampler drives the presence pipeline at a bounded cadence.
package sampler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zenflow-backend/config"
	"zenflow-backend/internal/metrics"
	"zenflow-backend/internal/model"
	"zenflow-backend/internal/tracker"
)

// Observer is the state machine the loop feeds.
type Observer interface {
	Observe(ctx context.Context, present bool, now time.Time) (model.PresenceStatus, error)
	CurrentStatus() model.PresenceStatus
}

// Broadcaster publishes status changes.
type Broadcaster interface {
	BroadcastStatusChange(status model.PresenceStatus) int
}

// Service is the sampling loop. It owns the previous-iteration status and
// broadcasts only when the observed status differs from it.
type Service struct {
	source     FrameSource
	classifier Classifier
	tracker    Observer
	hub        Broadcaster

	limiter *rate.Limiter
	backoff time.Duration
	now     func() time.Time

	last    model.PresenceStatus
	failing bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used to timestamp samples.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a sampling loop from the sampler configuration.
func NewService(cfg config.SamplerConfig, source FrameSource, classifier Classifier, obs Observer, hub Broadcaster, opts ...Option) *Service {
	hz := cfg.SampleRateHz
	if hz <= 0 {
		hz = 10
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	s := &Service{
		source:     source,
		classifier: classifier,
		tracker:    obs,
		hub:        hub,
		limiter:    rate.NewLimiter(rate.Limit(hz), 1),
		backoff:    backoff,
		now:        time.Now,
		last:       obs.CurrentStatus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop in a background goroutine until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels a loop started with Start and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run samples until ctx is cancelled. Acquisition and classification
// failures back off and retry; nothing else stops the loop.
func (s *Service) Run(ctx context.Context) {
	log.Println("Starting sampling loop...")
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Println("Sampling loop shutting down.")
			return
		}

		_, err := s.SampleOnce(ctx)
		if errors.Is(err, ErrAcquisition) || errors.Is(err, ErrClassification) {
			select {
			case <-ctx.Done():
				log.Println("Sampling loop shutting down.")
				return
			case <-time.After(s.backoff):
			}
		}
	}
}

// SampleOnce takes one sample through the pipeline and reports whether the
// status changed. Acquisition and classification errors skip the tick. A
// store error is returned after the change has been broadcast.
func (s *Service) SampleOnce(ctx context.Context) (bool, error) {
	frame, err := s.source.NextFrame(ctx)
	if err != nil {
		s.skip(metrics.ResultAcquisitionError, err)
		return false, err
	}

	present, err := s.classifier.Classify(ctx, frame)
	if err != nil {
		s.skip(metrics.ResultClassificationError, err)
		return false, err
	}
	if s.failing {
		log.Println("Sampling recovered.")
		s.failing = false
	}
	metrics.Samples.WithLabelValues(metrics.ResultOK).Inc()

	status, storeErr := s.tracker.Observe(ctx, present, s.now())
	if storeErr != nil {
		metrics.StoreErrors.WithLabelValues("append_partial_log").Inc()
		log.Printf("Error writing partial log, absence not recorded: %v", storeErr)
	}

	if status == s.last {
		return false, storeErr
	}
	s.last = status
	metrics.StatusChanges.WithLabelValues(string(status)).Inc()
	log.Printf("Status changed to %q", status)
	s.hub.BroadcastStatusChange(status)
	return true, storeErr
}

// skip logs the first failure of a streak; later ones are only counted.
func (s *Service) skip(result string, err error) {
	metrics.Samples.WithLabelValues(result).Inc()
	if !s.failing {
		log.Printf("Sampling failed, retrying every %s: %v", s.backoff, err)
		s.failing = true
	}
}

// countingSink counts partial logs that reach the store.
type countingSink struct {
	next     tracker.PartialLogSink
	onAppend []func()
}

// CountingSink wraps next so that successful appends are counted in metrics.
// Each onAppend hook runs after an append commits, e.g. to drop cached
// copies of the log.
func CountingSink(next tracker.PartialLogSink, onAppend ...func()) tracker.PartialLogSink {
	return &countingSink{next: next, onAppend: onAppend}
}

func (c *countingSink) AppendPartialLog(ctx context.Context, entry *model.PartialLog) error {
	if err := c.next.AppendPartialLog(ctx, entry); err != nil {
		return err
	}
	metrics.PartialLogs.Inc()
	for _, fn := range c.onAppend {
		fn()
	}
	log.Printf("Partial log recorded: away %.1fs from %s", entry.DurationSeconds, entry.AwayStart.Format(time.RFC3339))
	return nil
}
