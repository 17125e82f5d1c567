package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	applogger "BollingerChart/pkg/logger"
)

type countingAllower struct{ budget int }

func (a *countingAllower) Allow(string) bool {
	if a.budget == 0 {
		return false
	}
	a.budget--
	return true
}

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw...)
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	e.GET("/fail", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "nope") })
	e.GET("/err", func(c echo.Context) error { return errors.New("plain") })
	return e
}

func do(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRecoverReturns500(t *testing.T) {
	e := newEcho(Recover(applogger.Nop()))
	if rec := do(e, http.MethodGet, "/boom", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRequestLoggingWritesErrorResponse(t *testing.T) {
	e := newEcho(RequestLogging(applogger.Nop()))
	if rec := do(e, http.MethodGet, "/fail", nil); rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/err", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestMetricsPassesThrough(t *testing.T) {
	e := newEcho(Metrics(applogger.Nop(), 0), RequestLogging(applogger.Nop()))
	if rec := do(e, http.MethodGet, "/ok", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/fail", nil); rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	e := newEcho(CORS(CORSConfig{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{http.MethodGet, http.MethodPut},
	}))

	rec := do(e, http.MethodGet, "/ok", map[string]string{"Origin": "http://localhost:3000"})
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q", got)
	}
	rec = do(e, http.MethodGet, "/ok", map[string]string{"Origin": "http://evil.example"})
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	e := newEcho(RateLimit(&countingAllower{budget: 2}))
	for i := 0; i < 2; i++ {
		if rec := do(e, http.MethodGet, "/ok", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	if rec := do(e, http.MethodGet, "/ok", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}
