// Package v1 provides the HTTP handlers of the negotiation API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/service"
)

// RealtimeStats reports live WebSocket usage for the health endpoint.
type RealtimeStats interface {
	Stats() (connections, sessions int)
}

// Handler handles HTTP requests.
type Handler struct {
	service       *service.Service
	publicBaseURL string
	realtime      RealtimeStats
}

// NewHandler creates a new handler. publicBaseURL is where invite links
// point; realtime may be nil.
func NewHandler(service *service.Service, publicBaseURL string, realtime RealtimeStats) *Handler {
	return &Handler{
		service:       service,
		publicBaseURL: publicBaseURL,
		realtime:      realtime,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1", mw...)

	// Sessions
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions/:session_id", h.GetSession)
	g.POST("/sessions/:session_id/ratify", h.Ratify)
	g.GET("/sessions/:session_id/contract", h.GetContract)
	g.GET("/sessions/:session_id/progress", h.GetProgress)
	g.GET("/sessions/:session_id/invite", h.GetInviteLink)
	g.GET("/join", h.Join)

	// Chat
	g.GET("/sessions/:session_id/messages", h.GetMessages)
	g.POST("/sessions/:session_id/messages", h.SendMessage)
	g.POST("/translate", h.Translate)

	// Ledger
	g.GET("/sessions/:session_id/terms", h.GetTerms)
	g.POST("/sessions/:session_id/terms", h.ProposeTerm)
	g.PATCH("/terms/:term_id", h.UpdateTermStatus)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": "0.1.0",
	}
	if h.realtime != nil {
		connections, sessions := h.realtime.Stats()
		resp["connections"] = connections
		resp["live_sessions"] = sessions
	}
	return c.JSON(http.StatusOK, resp)
}

// errorResponse maps service errors onto status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, classifier.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, classifier.ErrQuotaExceeded):
		status = http.StatusPaymentRequired
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
