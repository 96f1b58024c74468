package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// GetMessages lists a session's messages in creation order.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	if _, err := h.service.GetSession(ctx, sessionID); err != nil {
		return errorResponse(c, err)
	}
	messages, err := h.service.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// SendMessage posts a chat message; translation happens in the background.
// POST /v1/sessions/:session_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	msg, err := h.service.SendMessage(c.Request().Context(), c.Param("session_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// Translate runs the translation classifier synchronously.
// POST /v1/translate
func (h *Handler) Translate(c echo.Context) error {
	var req domain.TranslateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	res, err := h.service.Translate(c.Request().Context(), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, domain.ErrValidation):
		return errorResponse(c, err)
	case errors.Is(err, classifier.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Rate limited, try again later"})
	case errors.Is(err, classifier.ErrQuotaExceeded):
		return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "Payment required"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "AI gateway error"})
	}
}
