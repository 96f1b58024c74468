package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/negotiation"
)

// CreateSession starts a negotiation.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	session, err := h.service.CreateSession(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	role := req.Role
	if role == "" {
		role = domain.RolePartyA
	}
	invite, err := negotiation.InviteLink(h.publicBaseURL, session.ID, role)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"session":     session,
		"role":        role,
		"invite_link": invite,
	})
}

// GetSession returns the session with its messages and terms.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	snapshot, err := h.service.GetSnapshot(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// Ratify finalises the session when every term is accepted.
// POST /v1/sessions/:session_id/ratify
func (h *Handler) Ratify(c echo.Context) error {
	var req domain.RatifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	res, err := h.service.Ratify(c.Request().Context(), c.Param("session_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetContract renders the accepted terms as a contract preview.
// GET /v1/sessions/:session_id/contract
func (h *Handler) GetContract(c echo.Context) error {
	contract, err := h.service.GetContract(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, contract)
}

// GetProgress counts terms by status.
// GET /v1/sessions/:session_id/progress
func (h *Handler) GetProgress(c echo.Context) error {
	progress, err := h.service.GetProgress(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// GetInviteLink returns the link for the counterpart of ?role= (party_a by
// default).
// GET /v1/sessions/:session_id/invite
func (h *Handler) GetInviteLink(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	role := domain.Role(c.QueryParam("role"))
	if role == "" {
		role = domain.RolePartyA
	}
	if _, err := h.service.GetSession(ctx, sessionID); err != nil {
		return errorResponse(c, err)
	}

	invite, err := negotiation.InviteLink(h.publicBaseURL, sessionID, role)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"invite_link": invite,
		"role":        role.Counterpart(),
	})
}

// Join resolves an invite link (?link=) or its raw parameters
// (?session=&role=) to the session and the role it grants.
// GET /v1/join
func (h *Handler) Join(c echo.Context) error {
	link := c.QueryParam("link")
	if link == "" {
		link = c.QueryString()
	}

	sessionID, role, err := negotiation.ParseInviteLink(link)
	if err != nil {
		return errorResponse(c, err)
	}
	snapshot, err := h.service.JoinSession(c.Request().Context(), sessionID, role)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"role":     role,
		"snapshot": snapshot,
	})
}
