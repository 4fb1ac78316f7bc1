package api

import (
	"context"
	"errors"
	"time"

	"GridWatch/internal/domain/models"
	domrepo "GridWatch/internal/domain/repository"
	apimetrics "GridWatch/internal/service/metrics"
	"GridWatch/internal/usecase"
	xhttp "GridWatch/pkg/http"
	xlogger "GridWatch/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const historyLookback = time.Hour

// GridEchoHandler serves the grid and observation endpoints.
type GridEchoHandler struct {
	logger  *xlogger.Logger
	grid    *usecase.GridService
	history *usecase.ObservationsUseCase
	cache   domrepo.ObservationCache
	storage domrepo.Storage
	metrics *apimetrics.APIMetrics
}

func NewGridEchoHandler(
	logger *xlogger.Logger,
	grid *usecase.GridService,
	history *usecase.ObservationsUseCase,
	cache domrepo.ObservationCache,
	storage domrepo.Storage,
	metrics *apimetrics.APIMetrics,
) *GridEchoHandler {
	return &GridEchoHandler{
		logger:  logger,
		grid:    grid,
		history: history,
		cache:   cache,
		storage: storage,
		metrics: metrics,
	}
}

func (h *GridEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/grid", h.Grid)
	g.GET("/grid/preview", h.Preview)
	g.GET("/grid/locate", h.Locate)
	g.GET("/observations/latest", h.Latest)
	g.GET("/observations", h.Observations)
	e.GET("/health", h.Health)
}

func (h *GridEchoHandler) Grid(c echo.Context) error {
	defer h.metrics.Since("grid", time.Now())

	snap := h.grid.Current()
	if snap == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("grid not built yet"))
	}
	return xhttp.SuccessResponse(c, snap)
}

type previewResponse struct {
	Levels models.GridLevels `json:"levels"`
	Count  int               `json:"count"`
	Min    decimal.Decimal   `json:"min"`
	Max    decimal.Decimal   `json:"max"`
}

func (h *GridEchoHandler) Preview(c echo.Context) error {
	defer h.metrics.Since("grid_preview", time.Now())

	req := &models.GridPreviewRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Error("grid_preview")
		return xhttp.BadRequestResponse(c, verr)
	}

	central, err := decimal.NewFromString(req.CentralPrice)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.FieldError("central_price", err.Error()))
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.FieldError("delta", err.Error()))
	}

	levels, err := h.grid.Preview(usecase.PreviewParams{
		CentralPrice: central,
		Delta:        delta,
		Upper:        req.Upper,
		Down:         req.Down,
	})
	if err != nil {
		h.metrics.Error("grid_preview")
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, previewResponse{
		Levels: levels,
		Count:  len(levels),
		Min:    levels.Min(),
		Max:    levels.Max(),
	})
}

func (h *GridEchoHandler) Locate(c echo.Context) error {
	defer h.metrics.Since("grid_locate", time.Now())

	req := &models.GridLocateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.FieldError("price", err.Error()))
	}

	pos, err := h.grid.Locate(price)
	if errors.Is(err, usecase.ErrGridNotBuilt) {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("grid not built yet"))
	}
	if err != nil {
		h.metrics.Error("grid_locate")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, pos)
}

func (h *GridEchoHandler) Latest(c echo.Context) error {
	defer h.metrics.Since("observations_latest", time.Now())

	st, err := h.grid.Status(c.Request().Context())
	if err != nil {
		h.metrics.Error("observations_latest")
		h.logger.Error("latest observation error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("latest observation unavailable").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return xhttp.SuccessResponse(c, st)
}

func (h *GridEchoHandler) Observations(c echo.Context) error {
	defer h.metrics.Since("observations", time.Now())

	if !h.history.Enabled() {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(usecase.ErrStorageDisabled.Error()))
	}

	req := &models.ObservationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to := xhttp.ParseRange(req.From, req.To, historyLookback)

	res, err := h.history.GetObservations(c.Request().Context(), usecase.GetObservationsParams{
		Symbol: h.grid.Symbol(),
		From:   from,
		To:     to,
		Limit:  req.Limit,
	})
	if err != nil {
		h.metrics.Error("observations")
		h.logger.Error("observations usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("observation history query failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Symbol  string            `json:"symbol"`
	Checked time.Time         `json:"checked_at"`
}

func (h *GridEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	res := healthResponse{Status: "ok", Checks: map[string]string{}, Symbol: h.grid.Symbol(), Checked: time.Now().UTC()}
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			res.Status = "degraded"
			res.Checks[name] = err.Error()
			return
		}
		res.Checks[name] = "ok"
	}
	if h.cache != nil {
		check("cache", h.cache.Health)
	}
	if h.storage != nil {
		check("storage", h.storage.Health)
	}

	if res.Status != "ok" {
		return xhttp.ServiceUnavailableResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}
