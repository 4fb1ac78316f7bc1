package usecase

import (
	"context"
	"sync"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// step is one scripted outcome of TickerSubscription.Next.
type step struct {
	price string
	err   error
}

type scriptedStream struct {
	mu            sync.Mutex
	name          string
	supported     bool
	steps         []step
	subscribeErrs []error
	subscribes    int
	closed        int
	now           time.Time
}

func newScriptedStream(steps ...step) *scriptedStream {
	return &scriptedStream{
		name:      "scripted",
		supported: true,
		steps:     steps,
		now:       time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *scriptedStream) Name() string { return s.name }
func (s *scriptedStream) SupportsTickerStream() bool { return s.supported }
func (s *scriptedStream) Now() time.Time { return s.now }
func (s *scriptedStream) Status(ctx context.Context) error { return nil }

func (s *scriptedStream) Subscribe(ctx context.Context, symbol string) (drepo.TickerSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if len(s.subscribeErrs) > 0 {
		err := s.subscribeErrs[0]
		s.subscribeErrs = s.subscribeErrs[1:]
		return nil, err
	}
	return &scriptedSub{stream: s}, nil
}

func (s *scriptedStream) pop() (step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return step{}, false
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st, true
}

func (s *scriptedStream) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

type scriptedSub struct {
	stream *scriptedStream
}

func (sub *scriptedSub) Next(ctx context.Context) (models.PriceSample, error) {
	st, ok := sub.stream.pop()
	if !ok {
		<-ctx.Done()
		return models.PriceSample{}, ctx.Err()
	}
	if st.err != nil {
		return models.PriceSample{}, st.err
	}
	return models.PriceSample{Price: decimal.RequireFromString(st.price)}, nil
}

func (sub *scriptedSub) Close() error {
	sub.stream.mu.Lock()
	defer sub.stream.mu.Unlock()
	sub.stream.closed++
	return nil
}

// recordingReporter cancels the run once the configured counts are reached.
type recordingReporter struct {
	mu                sync.Mutex
	observations      []models.TrendObservation
	failures          []error
	fatals            []string
	cancel            context.CancelFunc
	stopAfterObs      int
	stopAfterFailures int
}

func (r *recordingReporter) ReportObservation(obs models.TrendObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, obs)
	if r.stopAfterObs > 0 && len(r.observations) >= r.stopAfterObs && r.cancel != nil {
		r.cancel()
	}
}

func (r *recordingReporter) ReportFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
	if r.stopAfterFailures > 0 && len(r.failures) >= r.stopAfterFailures && r.cancel != nil {
		r.cancel()
	}
}

func (r *recordingReporter) ReportFatal(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatals = append(r.fatals, message)
}

func (r *recordingReporter) directions() []models.Direction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Direction, len(r.observations))
	for i, o := range r.observations {
		out[i] = o.Direction
	}
	return out
}

// nopMetrics satisfies drepo.Metrics for tests that do not inspect metrics.
type nopMetrics struct{}

func (nopMetrics) RecordMessageSent(string, string) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64) {}
func (nopMetrics) RecordObservation(string, models.Direction) {}
func (nopMetrics) RecordStreamFailure(string) {}
func (nopMetrics) RecordFailureReport(string) {}
