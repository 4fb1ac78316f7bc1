package kafka

import (
	"context"
	"fmt"
	"time"

	applogger "GridWatch/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// HeaderTraceID carries a correlation id from producer to consumer hooks.
const HeaderTraceID = "trace_id"

// Delivery is one handling attempt of a fetched message. Hooks may rewrite
// Msg.Value before the handler sees it.
type Delivery struct {
	Msg     kafka.Message
	Attempt int
}

// ConsumerHook observes message handling. A Before error skips the handler
// and counts as a failed attempt.
type ConsumerHook interface {
	Before(ctx context.Context, d *Delivery) (context.Context, error)
	After(ctx context.Context, d *Delivery, err error)
	OnError(ctx context.Context, d *Delivery, err error)
}

// HookError classifies a failure raised by a hook, e.g. ERR_VALIDATION.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs implements ConsumerHook from optional functions.
type HookFuncs struct {
	BeforeFunc  func(context.Context, *Delivery) (context.Context, error)
	AfterFunc   func(context.Context, *Delivery, error)
	OnErrorFunc func(context.Context, *Delivery, error)
}

func (h HookFuncs) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.BeforeFunc == nil {
		return ctx, nil
	}
	return h.BeforeFunc(ctx, d)
}

func (h HookFuncs) After(ctx context.Context, d *Delivery, err error) {
	if h.AfterFunc != nil {
		h.AfterFunc(ctx, d, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, d *Delivery, err error) {
	if h.OnErrorFunc != nil {
		h.OnErrorFunc(ctx, d, err)
	}
}

// HookChain runs hooks in order for Before and in reverse for After. A
// panicking hook never reaches the consumer: in Before it becomes an
// ERR_PANIC HookError, elsewhere it is dropped.
type HookChain []ConsumerHook

// NewHookChain drops nil hooks.
func NewHookChain(hooks ...ConsumerHook) HookChain {
	chain := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

// Before threads ctx through every hook. On the first error every hook's
// OnError is called and the chain stops.
func (c HookChain) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	for _, h := range c {
		next, err := safeBefore(h, ctx, d)
		if err != nil {
			c.OnError(ctx, d, err)
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c HookChain) After(ctx context.Context, d *Delivery, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		h := c[i]
		guard(func() { h.After(ctx, d, err) })
	}
}

func (c HookChain) OnError(ctx context.Context, d *Delivery, err error) {
	for _, h := range c {
		guard(func() { h.OnError(ctx, d, err) })
	}
}

func safeBefore(h ConsumerHook, ctx context.Context, d *Delivery) (next context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.Before(ctx, d)
}

func guard(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey int

const (
	startTimeKey ctxKey = iota
	traceIDKey
)

// WithStartTime records when handling started.
func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// StartTimeFrom returns the time stored by WithStartTime.
func StartTimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// WithTraceID stores a non-empty trace id.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceIDFrom returns the id stored by WithTraceID.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// TraceID reads the HeaderTraceID header.
func TraceID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderTraceID {
			return string(h.Value)
		}
	}
	return ""
}

// LoggingHook stamps the start time and trace id on the context, logs each
// handled message at debug level and each failed attempt as a warning.
func LoggingHook(l *applogger.Logger) ConsumerHook {
	if l == nil {
		l = applogger.Nop()
	}
	fields := func(ctx context.Context, d *Delivery) []applogger.Field {
		f := []applogger.Field{
			applogger.String("topic", d.Msg.Topic),
			applogger.Int("partition", d.Msg.Partition),
			applogger.Int64("offset", d.Msg.Offset),
			applogger.Int("attempt", d.Attempt),
		}
		if id := TraceIDFrom(ctx); id != "" {
			f = append(f, applogger.String("trace_id", id))
		}
		return f
	}

	return HookFuncs{
		BeforeFunc: func(ctx context.Context, d *Delivery) (context.Context, error) {
			return WithTraceID(WithStartTime(ctx, time.Now()), TraceID(d.Msg)), nil
		},
		AfterFunc: func(ctx context.Context, d *Delivery, err error) {
			if err != nil {
				return
			}
			f := fields(ctx, d)
			if start, ok := StartTimeFrom(ctx); ok {
				f = append(f, applogger.Duration("took", time.Since(start)))
			}
			l.Debug("kafka consumer: handled", f...)
		},
		OnErrorFunc: func(ctx context.Context, d *Delivery, err error) {
			l.Warn("kafka consumer: attempt failed", append(fields(ctx, d), applogger.Error(err))...)
		},
	}
}
