package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"BollingerChart/internal/domain/models"
	"BollingerChart/internal/usecase"
	xhttp "BollingerChart/pkg/http"
	"BollingerChart/pkg/http/middleware"
	xlogger "BollingerChart/pkg/logger"
	"BollingerChart/pkg/util"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ChartEchoHandler exposes the chart state and the Bollinger Bands settings.
type ChartEchoHandler struct {
	logger  *xlogger.Logger
	chart   *usecase.ChartUseCase
	limiter middleware.Allower
	checks  map[string]HealthCheck
}

func NewChartEchoHandler(logger *xlogger.Logger, chart *usecase.ChartUseCase, limiter middleware.Allower) *ChartEchoHandler {
	return &ChartEchoHandler{logger: logger, chart: chart, limiter: limiter, checks: map[string]HealthCheck{}}
}

// AddHealthCheck makes /healthz fail with 503 while check fails.
func (h *ChartEchoHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *ChartEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/candles", h.Candles)

	bb := g.Group("/indicators/bb")
	bb.GET("", h.Indicator)
	bb.GET("/compute", h.Compute)
	bb.GET("/inputs", h.Inputs)
	bb.GET("/styles", h.Styles)

	limited := middleware.RateLimit(h.limiter)
	bb.PUT("/inputs", h.UpdateInputs, limited)
	bb.PUT("/styles", h.UpdateStyles, limited)
}

func (h *ChartEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("check", name), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(name+" unavailable").WithError(err))
		}
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"loaded":  h.chart.Loaded(),
		"candles": len(h.chart.Series()),
	})
}

// Candles lists the loaded series, optionally restricted to [from, to].
func (h *ChartEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	lo, hi, ok := util.MillisRange(req.From, req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid time range from=%q to=%q", req.From, req.To))
	}

	series := h.chart.Series()
	rows := make([]models.Candle, 0, len(series))
	for _, candle := range series {
		if candle.Timestamp >= lo && candle.Timestamp <= hi {
			rows = append(rows, candle)
		}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ChartEchoHandler) Indicator(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.chart.Indicator())
}

// Compute runs the calculator with query parameters without changing the chart.
func (h *ChartEchoHandler) Compute(c echo.Context) error {
	req := &models.ComputeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	points, err := h.chart.Compute(c.Request().Context(), req.Params())
	if err != nil {
		return h.bandsError(c, "compute", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"inputs": req.Params(),
		"points": points,
	})
}

func (h *ChartEchoHandler) Inputs(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.chart.Inputs())
}

// UpdateInputs merges the body over the current inputs and recomputes.
func (h *ChartEchoHandler) UpdateInputs(c echo.Context) error {
	cur := h.chart.Inputs()
	req := &models.UpdateInputsRequest{
		Length: cur.Length,
		StdDev: cur.StdDevMultiplier,
		Offset: cur.Offset,
		Source: string(cur.Source),
	}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ev, err := h.chart.UpdateInputs(c.Request().Context(), req.Params())
	if err != nil {
		return h.bandsError(c, "update inputs", err)
	}
	return xhttp.SuccessResponse(c, ev)
}

func (h *ChartEchoHandler) Styles(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.chart.Styles())
}

// UpdateStyles merges the body over the current styles. Points are not recomputed.
func (h *ChartEchoHandler) UpdateStyles(c echo.Context) error {
	req := h.chart.Styles()
	if verr := xhttp.ReadAndValidateRequest(c, &req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.chart.UpdateStyles(req); err != nil {
		return h.bandsError(c, "update styles", err)
	}
	return xhttp.SuccessResponse(c, h.chart.Indicator())
}

func (h *ChartEchoHandler) bandsError(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrInvalidParameter):
		appErr = xhttp.BadRequestError(err.Error())
		appErr.Code = "INVALID_PARAMETER"
	case errors.Is(err, models.ErrMalformedInput):
		appErr = xhttp.UnprocessableError(err.Error())
		appErr.Code = "MALFORMED_INPUT"
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("Something went wrong").WithError(err))
	}
	h.logger.Debug(op+" rejected", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}
