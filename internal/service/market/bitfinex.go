package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
	xhttp "GridWatch/pkg/http"
	applogger "GridWatch/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	DefaultWebsocketURL = "wss://api-pub.bitfinex.com/ws/2"
	DefaultRestURL      = "https://api-pub.bitfinex.com"

	// ticker array: BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE, LAST_PRICE, VOLUME, HIGH, LOW
	lastPriceIndex = 6

	infoReconnect        = 20051
	infoMaintenanceStart = 20060
)

var (
	ErrUnknownSymbol = errors.New("unknown market symbol")
	ErrMaintenance   = errors.New("bitfinex platform in maintenance")
)

// ExchangeError is an error event sent by the exchange.
type ExchangeError struct {
	Code int
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("bitfinex error %d: %s", e.Code, e.Msg)
}

// PairSymbol maps "BASE/QUOTE" to the Bitfinex trading pair symbol.
func PairSymbol(symbol string) (string, error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)
	if len(base) == 3 && len(quote) == 3 {
		return "t" + base + quote, nil
	}
	return "t" + base + ":" + quote, nil
}

// Bitfinex implements MarketStream on the public v2 WebSocket ticker channel.
type Bitfinex struct {
	websocketURL     string
	restURL          string
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	tickerStream     bool
	statusRetries    uint64

	client *xhttp.Client
	logger *applogger.Logger
	clock  func() time.Time
}

type BitfinexOption func(*Bitfinex)

func WithWebsocketURL(u string) BitfinexOption {
	return func(b *Bitfinex) { b.websocketURL = u }
}

func WithRestURL(u string) BitfinexOption {
	return func(b *Bitfinex) { b.restURL = strings.TrimRight(u, "/") }
}

func WithPingInterval(d time.Duration) BitfinexOption {
	return func(b *Bitfinex) { b.pingInterval = d }
}

func WithHandshakeTimeout(d time.Duration) BitfinexOption {
	return func(b *Bitfinex) { b.handshakeTimeout = d }
}

func WithReadTimeout(d time.Duration) BitfinexOption {
	return func(b *Bitfinex) { b.readTimeout = d }
}

// WithTickerStream overrides the advertised ticker capability.
func WithTickerStream(enabled bool) BitfinexOption {
	return func(b *Bitfinex) { b.tickerStream = enabled }
}

func WithStatusRetries(n uint64) BitfinexOption {
	return func(b *Bitfinex) { b.statusRetries = n }
}

// WithHTTPClient replaces the client used by the REST status probe.
func WithHTTPClient(c *xhttp.Client) BitfinexOption {
	return func(b *Bitfinex) { b.client = c }
}

func WithLogger(l *applogger.Logger) BitfinexOption {
	return func(b *Bitfinex) { b.logger = l }
}

func WithClock(now func() time.Time) BitfinexOption {
	return func(b *Bitfinex) { b.clock = now }
}

// NewBitfinex creates a Bitfinex MarketStream.
func NewBitfinex(opts ...BitfinexOption) *Bitfinex {
	b := &Bitfinex{
		websocketURL:     DefaultWebsocketURL,
		restURL:          DefaultRestURL,
		pingInterval:     15 * time.Second,
		handshakeTimeout: 10 * time.Second,
		readTimeout:      60 * time.Second,
		tickerStream:     true,
		statusRetries:    3,
		clock:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = xhttp.NewClient(xhttp.WithTimeout(b.handshakeTimeout))
	}
	if b.logger == nil {
		b.logger = applogger.Nop()
	}
	return b
}

func (b *Bitfinex) Name() string { return "bitfinex" }

func (b *Bitfinex) SupportsTickerStream() bool { return b.tickerStream }

func (b *Bitfinex) Now() time.Time { return b.clock() }

// Status probes GET /v2/platform/status; [1] is operative, [0] maintenance.
func (b *Bitfinex) Status(ctx context.Context) error {
	op := func() error {
		var status []int
		err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodGet,
			URL:    b.restURL + "/v2/platform/status",
		}, &status)
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code < 500 && se.Code != 429 {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if len(status) == 0 {
			return backoff.Permanent(errors.New("bitfinex status: empty response"))
		}
		if status[0] != 1 {
			return backoff.Permanent(ErrMaintenance)
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.statusRetries), ctx)
	return backoff.Retry(op, policy)
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// Subscribe dials the socket and waits for the ticker subscription ack.
func (b *Bitfinex) Subscribe(ctx context.Context, symbol string) (drepo.TickerSubscription, error) {
	pair, err := PairSymbol(symbol)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: b.handshakeTimeout, Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.DialContext(ctx, b.websocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bitfinex connect: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	req, err := json.Marshal(subscribeRequest{Event: "subscribe", Channel: "ticker", Symbol: pair})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", pair, err)
	}

	chanID, err := b.awaitSubscribed(ctx, conn, pair)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	sub := &tickerSubscription{
		conn:        conn,
		chanID:      chanID,
		readTimeout: b.readTimeout,
		clock:       b.clock,
		done:        make(chan struct{}),
	}
	if b.pingInterval > 0 {
		go sub.keepAlive(b.pingInterval, b.logger)
	}
	b.logger.Info("bitfinex: subscribed", applogger.String("symbol", pair), applogger.Int64("chan_id", chanID))
	return sub, nil
}

func (b *Bitfinex) awaitSubscribed(ctx context.Context, conn *websocket.Conn, pair string) (int64, error) {
	stop := interruptOnDone(ctx, conn)
	defer stop()

	if b.handshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(b.handshakeTimeout))
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("bitfinex subscribe %s: %w", pair, err)
		}
		f, err := decodeFrame(raw)
		if err != nil {
			return 0, err
		}
		if f.event == nil {
			continue
		}
		if err := f.event.err(); err != nil {
			return 0, err
		}
		if f.event.Event == "subscribed" && f.event.Channel == "ticker" && f.event.Symbol == pair {
			_ = conn.SetReadDeadline(time.Time{})
			return f.event.ChanID, nil
		}
	}
}

// interruptOnDone unblocks a pending read when ctx is cancelled.
func interruptOnDone(ctx context.Context, conn *websocket.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
}

type tickerSubscription struct {
	conn        *websocket.Conn
	chanID      int64
	readTimeout time.Duration
	clock       func() time.Time
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *tickerSubscription) Next(ctx context.Context) (models.PriceSample, error) {
	stop := interruptOnDone(ctx, s.conn)
	defer stop()

	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		// checked after the deadline is armed so a concurrent cancel is never lost
		if err := ctx.Err(); err != nil {
			return models.PriceSample{}, err
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return models.PriceSample{}, ctx.Err()
			}
			return models.PriceSample{}, fmt.Errorf("bitfinex read: %w", err)
		}

		f, err := decodeFrame(raw)
		if err != nil {
			return models.PriceSample{}, err
		}
		if f.event != nil {
			if err := f.event.err(); err != nil {
				return models.PriceSample{}, err
			}
			continue
		}
		if f.chanID != s.chanID || f.heartbeat || !f.hasPrice {
			continue
		}
		return models.PriceSample{Price: f.lastPrice, ObservedAt: s.clock()}, nil
	}
}

func (s *tickerSubscription) keepAlive(interval time.Duration, logger *applogger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Debug("bitfinex ping failed", applogger.Error(err))
				return
			}
		}
	}
}

func (s *tickerSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

type event struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

func (e *event) err() error {
	switch {
	case e.Event == "error":
		return &ExchangeError{Code: e.Code, Msg: e.Msg}
	case e.Event == "info" && (e.Code == infoReconnect || e.Code == infoMaintenanceStart):
		return &ExchangeError{Code: e.Code, Msg: e.Msg}
	}
	return nil
}

type frame struct {
	event     *event
	chanID    int64
	heartbeat bool
	hasPrice  bool
	lastPrice decimal.Decimal
}

// decodeFrame parses either an event object or a [chanId, payload] channel message.
func decodeFrame(raw []byte) (frame, error) {
	var f frame
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return f, errors.New("bitfinex: empty frame")
	}

	if trimmed[0] == '{' {
		var e event
		if err := json.Unmarshal(raw, &e); err != nil {
			return f, fmt.Errorf("bitfinex: decode event: %w", err)
		}
		f.event = &e
		return f, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return f, fmt.Errorf("bitfinex: decode frame: %w", err)
	}
	if len(parts) < 2 {
		return f, fmt.Errorf("bitfinex: short frame %s", trimmed)
	}
	if err := json.Unmarshal(parts[0], &f.chanID); err != nil {
		return f, fmt.Errorf("bitfinex: decode channel id: %w", err)
	}

	payload := strings.TrimSpace(string(parts[1]))
	if strings.HasPrefix(payload, `"`) {
		f.heartbeat = payload == `"hb"`
		return f, nil
	}

	var fields []decimal.Decimal
	if err := json.Unmarshal(parts[1], &fields); err != nil {
		return f, fmt.Errorf("bitfinex: decode ticker: %w", err)
	}
	if len(fields) <= lastPriceIndex {
		return f, fmt.Errorf("bitfinex: ticker has %d fields", len(fields))
	}
	f.lastPrice = fields[lastPriceIndex]
	f.hasPrice = true
	return f, nil
}
