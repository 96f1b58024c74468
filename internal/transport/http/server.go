// Package http provides the HTTP server of the negotiator.
package http

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/config"
	"github.com/xiaot623/gogo/negotiator/internal/service"
	v1 "github.com/xiaot623/gogo/negotiator/internal/transport/http/v1"
	"github.com/xiaot623/gogo/negotiator/internal/transport/ws"
)

// NewServer creates the HTTP server: the v1 REST API, health and the
// WebSocket endpoint.
func NewServer(cfg *config.Config, svc *service.Service, wsServer *ws.Server, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, cfg.PublicBaseURL, wsServer)
	v1Handler.RegisterRoutes(e, apiKeyAuth(cfg.APIKey)...)

	// WebSocket clients authenticate in their hello frame.
	e.GET("/ws", wsServer.HandleWebSocket)

	return e
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

// apiKeyAuth requires X-API-Key on the REST API when a key is configured.
func apiKeyAuth(apiKey string) []echo.MiddlewareFunc {
	if apiKey == "" {
		return nil
	}
	return []echo.MiddlewareFunc{
		middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
			},
		}),
	}
}
