package market

import (
	"fmt"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
	"GridWatch/pkg/config"
	xhttp "GridWatch/pkg/http"
	applogger "GridWatch/pkg/logger"
)

// NewStream builds the configured MarketStream. The grid is used by the stub
// to centre its synthetic walk.
func NewStream(cfg config.ExchangeConfig, grid models.GridConfig, logger *applogger.Logger) (drepo.MarketStream, error) {
	switch cfg.Name {
	case "", "bitfinex":
		opts := []BitfinexOption{
			WithTickerStream(cfg.TickerStream),
			WithLogger(logger),
		}
		if cfg.WebSocketURL != "" {
			opts = append(opts, WithWebsocketURL(cfg.WebSocketURL))
		}
		if cfg.RestURL != "" {
			opts = append(opts, WithRestURL(cfg.RestURL))
		}
		if cfg.PingInterval > 0 {
			opts = append(opts, WithPingInterval(cfg.PingInterval))
		}
		if cfg.HandshakeTimeout > 0 {
			opts = append(opts,
				WithHandshakeTimeout(cfg.HandshakeTimeout),
				WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.HandshakeTimeout))),
			)
		}
		if cfg.ReadTimeout > 0 {
			opts = append(opts, WithReadTimeout(cfg.ReadTimeout))
		}
		return NewBitfinex(opts...), nil
	case "stub":
		return NewStub(grid.CentralPrice, grid.InterLevelDelta,
			WithStubInterval(cfg.StubInterval),
			WithStubTickerStream(cfg.TickerStream),
		), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.Name)
	}
}
