package market

import (
	"context"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// stubWalk is the offset pattern in steps around the central price.
var stubWalk = []int64{1, 2, 1, 0, -1, -2, -1, 0}

// Stub is a deterministic offline ticker that walks around a central price.
type Stub struct {
	central      decimal.Decimal
	step         decimal.Decimal
	interval     time.Duration
	tickerStream bool
	clock        func() time.Time
}

type StubOption func(*Stub)

func WithStubInterval(d time.Duration) StubOption {
	return func(s *Stub) { s.interval = d }
}

func WithStubTickerStream(enabled bool) StubOption {
	return func(s *Stub) { s.tickerStream = enabled }
}

func WithStubClock(now func() time.Time) StubOption {
	return func(s *Stub) { s.clock = now }
}

// NewStub walks by a quarter of delta around central.
func NewStub(central, delta decimal.Decimal, opts ...StubOption) *Stub {
	s := &Stub{
		central:      central,
		step:         delta.Div(decimal.NewFromInt(4)),
		interval:     time.Second,
		tickerStream: true,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) SupportsTickerStream() bool { return s.tickerStream }

func (s *Stub) Now() time.Time { return s.clock() }

func (s *Stub) Status(ctx context.Context) error { return ctx.Err() }

func (s *Stub) Subscribe(ctx context.Context, symbol string) (drepo.TickerSubscription, error) {
	if _, err := PairSymbol(symbol); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stubSubscription{stub: s}, nil
}

type stubSubscription struct {
	stub *Stub
	n    int
}

func (s *stubSubscription) Next(ctx context.Context) (models.PriceSample, error) {
	if s.stub.interval > 0 {
		t := time.NewTimer(s.stub.interval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return models.PriceSample{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return models.PriceSample{}, err
	}

	offset := stubWalk[s.n%len(stubWalk)]
	s.n++
	price := s.stub.central.Add(s.stub.step.Mul(decimal.NewFromInt(offset)))
	return models.PriceSample{Price: price, ObservedAt: s.stub.clock()}, nil
}

func (s *stubSubscription) Close() error { return nil }
