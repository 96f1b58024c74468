package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/ledger"
)

// GetTerms lists a session's terms in creation order.
// GET /v1/sessions/:session_id/terms
func (h *Handler) GetTerms(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	if _, err := h.service.GetSession(ctx, sessionID); err != nil {
		return errorResponse(c, err)
	}
	terms, err := h.service.GetTerms(ctx, sessionID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"terms":      terms,
		"can_ratify": ledger.CanRatify(terms),
	})
}

// ProposeTerm adds a pending clause.
// POST /v1/sessions/:session_id/terms
func (h *Handler) ProposeTerm(c echo.Context) error {
	var req domain.ProposeTermRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	term, err := h.service.ProposeTerm(c.Request().Context(), c.Param("session_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, term)
}

// UpdateTermStatus accepts, disputes or rejects a clause.
// PATCH /v1/terms/:term_id
func (h *Handler) UpdateTermStatus(c echo.Context) error {
	var req domain.UpdateTermStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Status == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status is required"})
	}

	term, err := h.service.UpdateTermStatus(c.Request().Context(), c.Param("term_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"term":            term,
		"allowed_targets": ledger.AllowedTargets(term.Status),
	})
}
