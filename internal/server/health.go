package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ragworks/docqa/internal/health"
)

// HealthHandler exposes the dependency health report.
type HealthHandler struct {
	Aggregator *health.Aggregator
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/api/health", h.check)
}

// check answers 200 while the service can still do useful work (healthy or
// degraded) and 503 once it cannot.
func (h *HealthHandler) check(c echo.Context) error {
	report := h.Aggregator.Check(c.Request().Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}
