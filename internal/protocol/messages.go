// Package protocol defines the WebSocket frames exchanged between a party's
// client and the negotiation server.
package protocol

import (
	"errors"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// Frame types from client to server
const (
	TypeHello       = "hello"
	TypeSendMessage = "send_message"
	TypeProposeTerm = "propose_term"
	TypeUpdateTerm  = "update_term"
	TypeRatify      = "ratify"
)

// Frame types from server to client
const (
	TypeHelloAck = "hello_ack"
	TypeSnapshot = "snapshot"
	TypeMessage  = "message"
	TypeTerm     = "term"
	TypeSession  = "session"
	TypePresence = "presence"
	TypeAck      = "ack"
	TypeError    = "error"
)

// BaseMessage contains common fields for all frames.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage joins a session. With no session_id, a case_name creates a
// new session; a link joins through an invite link instead.
type HelloMessage struct {
	BaseMessage
	Role     domain.Role `json:"role,omitempty"`
	APIKey   string      `json:"api_key,omitempty"`
	CaseName string      `json:"case_name,omitempty"`
	Link     string      `json:"link,omitempty"`
}

// HelloAckMessage confirms the join and carries the session as loaded.
type HelloAckMessage struct {
	BaseMessage
	Role       domain.Role            `json:"role"`
	InviteLink string                 `json:"invite_link,omitempty"`
	Snapshot   domain.SessionSnapshot `json:"snapshot"`
}

// SnapshotMessage carries the whole mirrored session after a (re)load.
type SnapshotMessage struct {
	BaseMessage
	Snapshot domain.SessionSnapshot `json:"snapshot"`
	Loading  bool                   `json:"loading"`
	Error    string                 `json:"error,omitempty"`
}

type SendMessageMessage struct {
	BaseMessage
	Content      string          `json:"content"`
	LanguageCode domain.Language `json:"language_code"`
}

type ProposeTermMessage struct {
	BaseMessage
	ClauseTitle   string `json:"clause_title"`
	ClauseContent string `json:"clause_content"`
}

type UpdateTermMessage struct {
	BaseMessage
	TermID          string            `json:"term_id"`
	Status          domain.TermStatus `json:"status"`
	ExpectedVersion int               `json:"expected_version,omitempty"`
}

type RatifyMessage struct {
	BaseMessage
}

// MessageEvent relays an inserted or annotated chat message.
type MessageEvent struct {
	BaseMessage
	Event   domain.ChangeEvent `json:"event"`
	Message *domain.Message    `json:"message"`
}

// TermEvent relays a proposed or updated clause.
type TermEvent struct {
	BaseMessage
	Event     domain.ChangeEvent     `json:"event"`
	Term      *domain.SettlementTerm `json:"term"`
	CanRatify bool                   `json:"can_ratify"`
}

// SessionEvent relays a session status change.
type SessionEvent struct {
	BaseMessage
	Session *domain.Session `json:"session"`
}

// PresenceMessage tells a session who is connected.
type PresenceMessage struct {
	BaseMessage
	Role   domain.Role   `json:"role"`
	State  string        `json:"state"`
	Online []domain.Role `json:"online"`
}

// Presence states
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// AckMessage confirms an action. ID names the created or updated record.
type AckMessage struct {
	BaseMessage
	ID       string `json:"id,omitempty"`
	Ratified *bool  `json:"ratified,omitempty"`
}

// ErrorMessage is sent when a frame cannot be processed.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage    = "invalid_message"
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeSessionRequired   = "session_required"
	ErrorCodeNotFound          = "not_found"
	ErrorCodeForbidden         = "forbidden"
	ErrorCodeInvalidTransition = "invalid_transition"
	ErrorCodeVersionConflict   = "version_conflict"
	ErrorCodeInternalError     = "internal_error"
)

// ErrorCode maps a domain error onto a frame error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return ErrorCodeInvalidMessage
	case errors.Is(err, domain.ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, domain.ErrForbidden):
		return ErrorCodeForbidden
	case errors.Is(err, domain.ErrInvalidTransition):
		return ErrorCodeInvalidTransition
	case errors.Is(err, domain.ErrVersionConflict):
		return ErrorCodeVersionConflict
	default:
		return ErrorCodeInternalError
	}
}
