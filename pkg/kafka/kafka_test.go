package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue("text")
	require.NoError(t, err)
	assert.Equal(t, "text", string(b))

	b, err = encodeValue(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := parseCompression("snappy")
	require.NoError(t, err)
	assert.Equal(t, kafka.Snappy, c)

	c, err = parseCompression("none")
	require.NoError(t, err)
	assert.Equal(t, kafka.Compression(0), c)

	_, err = parseCompression("bogus")
	assert.Error(t, err)
}

func TestNewProducer_Validates(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithDelivery(-1, 0, "brotli"))
	assert.ErrorContains(t, err, "brotli")

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.NoError(t, p.Close())

	_, err = NewConsumer()
	assert.Error(t, err)
}

func TestProducerMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newProducerMetrics(reg)

	m.observe("obs", "snappy", 120, 3, time.Millisecond, nil)
	m.observe("obs", "snappy", 40, 1, time.Millisecond, errors.New("broker down"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.msgs.WithLabelValues("obs", "snappy", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.msgs.WithLabelValues("obs", "snappy", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errs.WithLabelValues("obs")))
	assert.Equal(t, 160.0, testutil.ToFloat64(m.bytes.WithLabelValues("obs", "snappy")))
}

func TestStartOffset(t *testing.T) {
	assert.Equal(t, kafka.LastOffset, startOffset("latest"))
	assert.Equal(t, kafka.FirstOffset, startOffset("earliest"))
	assert.Equal(t, kafka.FirstOffset, startOffset(""))
}

type flakyHandler struct {
	failures int
	calls    int
	payloads []string
}

func (h *flakyHandler) Topic() string { return "gridwatch.observations" }

func (h *flakyHandler) Handle(_ context.Context, data []byte) error {
	h.calls++
	h.payloads = append(h.payloads, string(data))
	if h.calls <= h.failures {
		return errors.New("clickhouse unavailable")
	}
	return nil
}

func newTestConsumer(t *testing.T, h MessageHandler, retries int) (*Consumer, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond),
		WithConsumerRegisterer(reg),
	)
	require.NoError(t, err)
	c.RegisterHandler(h)
	t.Cleanup(c.cancel)
	return c, reg
}

func TestConsumer_RetriesUntilSuccess(t *testing.T) {
	h := &flakyHandler{failures: 2}
	c, _ := newTestConsumer(t, h, 3)

	var attempts []int
	c.WithConsumerHook(HookFuncs{
		BeforeFunc: func(ctx context.Context, d *Delivery) (context.Context, error) {
			attempts = append(attempts, d.Attempt)
			d.Msg.Value = append([]byte("v"), d.Msg.Value...)
			return ctx, nil
		},
	})

	c.process(kafka.Message{Topic: h.Topic(), Value: []byte("1")})

	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	// Each attempt starts from the fetched message
	assert.Equal(t, []string{"v1", "v1", "v1"}, h.payloads)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.handled.WithLabelValues(h.Topic(), "ok")))
}

func TestConsumer_GivesUpAfterRetryMax(t *testing.T) {
	h := &flakyHandler{failures: 100}
	c, _ := newTestConsumer(t, h, 2)

	var errs int
	c.WithConsumerHook(HookFuncs{OnErrorFunc: func(context.Context, *Delivery, error) { errs++ }})

	c.process(kafka.Message{Topic: h.Topic(), Value: []byte("{}")})

	assert.Equal(t, 3, h.calls)
	assert.Equal(t, 3, errs)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.handled.WithLabelValues(h.Topic(), "failed")))
}

func TestConsumer_BeforeErrorSkipsHandler(t *testing.T) {
	h := &flakyHandler{}
	c, _ := newTestConsumer(t, h, 0)
	c.WithConsumerHook(NewHookChain(HookFuncs{
		BeforeFunc: func(ctx context.Context, _ *Delivery) (context.Context, error) {
			return ctx, &HookError{Code: "ERR_VALIDATION"}
		},
	}))

	c.process(kafka.Message{Topic: h.Topic()})

	assert.Zero(t, h.calls)
}

func TestConsumer_StartRequiresHandlers(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestHookChain_ThreadsContextAndUnwinds(t *testing.T) {
	type key struct{}
	var order []string

	first := HookFuncs{
		BeforeFunc: func(ctx context.Context, _ *Delivery) (context.Context, error) {
			order = append(order, "before-1")
			return context.WithValue(ctx, key{}, "v"), nil
		},
		AfterFunc: func(context.Context, *Delivery, error) { order = append(order, "after-1") },
	}
	second := HookFuncs{
		BeforeFunc: func(ctx context.Context, _ *Delivery) (context.Context, error) {
			order = append(order, "before-2")
			assert.Equal(t, "v", ctx.Value(key{}))
			return ctx, nil
		},
		AfterFunc: func(context.Context, *Delivery, error) { order = append(order, "after-2") },
	}

	chain := NewHookChain(first, nil, second)
	require.Len(t, chain, 2)
	d := &Delivery{}
	ctx, err := chain.Before(context.Background(), d)
	require.NoError(t, err)

	chain.After(ctx, d, nil)
	assert.Equal(t, []string{"before-1", "before-2", "after-2", "after-1"}, order)
}

func TestHookChain_BeforeErrorNotifiesAll(t *testing.T) {
	var notified int
	failing := HookFuncs{
		BeforeFunc: func(ctx context.Context, _ *Delivery) (context.Context, error) {
			return ctx, &HookError{Code: "ERR_VALIDATION", Err: errors.New("bad payload")}
		},
		OnErrorFunc: func(context.Context, *Delivery, error) { notified++ },
	}
	counting := HookFuncs{
		OnErrorFunc: func(context.Context, *Delivery, error) { notified++ },
	}

	_, err := NewHookChain(failing, counting).Before(context.Background(), &Delivery{})

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_VALIDATION", hookErr.Code)
	assert.Equal(t, 2, notified)
}

func TestHookChain_RecoversPanics(t *testing.T) {
	panicky := HookFuncs{
		BeforeFunc: func(context.Context, *Delivery) (context.Context, error) { panic("boom") },
		AfterFunc:  func(context.Context, *Delivery, error) { panic("boom") },
	}
	chain := NewHookChain(panicky)

	_, err := chain.Before(context.Background(), &Delivery{})
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_PANIC", hookErr.Code)

	assert.NotPanics(t, func() { chain.After(context.Background(), &Delivery{}, nil) })
}

func TestLoggingHook_StampsContext(t *testing.T) {
	d := &Delivery{Msg: kafka.Message{Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("BTC/USD-1690000000000")}}}}

	ctx, err := LoggingHook(nil).Before(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, "BTC/USD-1690000000000", TraceIDFrom(ctx))
	_, ok := StartTimeFrom(ctx)
	assert.True(t, ok)
	assert.Empty(t, TraceIDFrom(context.Background()))
}
