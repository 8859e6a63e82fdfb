// Package routes assembles the HTTP surface: health endpoints and the
// metrics handler, instrumented with otel middleware.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/trellis/pkg/routes/health"
)

// Register wires middleware and routes onto the echo instance.
func Register(e *echo.Echo, serviceName string, checker *health.Checker) {
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
