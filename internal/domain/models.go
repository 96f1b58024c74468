package domain

import "time"

// Session represents one negotiation between two parties.
type Session struct {
	ID        string        `json:"id"`
	CaseName  string        `json:"case_name"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	CreatedBy *string       `json:"created_by"`
}

// Message represents a single chat message in a session.
type Message struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	SenderRole        Role      `json:"sender_role"`
	ContentOriginal   string    `json:"content_original"`
	ContentTranslated *string   `json:"content_translated"`
	LanguageCode      Language  `json:"language_code"`
	Intent            Intent    `json:"intent"`
	CreatedAt         time.Time `json:"created_at"`
}

// SettlementTerm represents one proposed clause and its acceptance status.
type SettlementTerm struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	ClauseTitle   string     `json:"clause_title"`
	ClauseContent string     `json:"clause_content"`
	Status        TermStatus `json:"status"`
	Version       int        `json:"version"`
	ProposedBy    Role       `json:"proposed_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Change is a single row change on the realtime feed. Exactly one of
// Session, Message or Term is set, matching Table.
type Change struct {
	Table     Table           `json:"table"`
	Event     ChangeEvent     `json:"event"`
	SessionID string          `json:"session_id"`
	Session   *Session        `json:"session,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Term      *SettlementTerm `json:"term,omitempty"`
}

// Article is one accepted clause as it appears in the contract preview.
type Article struct {
	Number  int    `json:"number"`
	TermID  string `json:"term_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Contract is the preview of the agreement built from accepted terms.
type Contract struct {
	SessionID string        `json:"session_id"`
	CaseName  string        `json:"case_name"`
	Status    SessionStatus `json:"status"`
	Articles  []Article     `json:"articles"`
}

// Progress summarises how far a negotiation has come.
type Progress struct {
	Total     int  `json:"total"`
	Accepted  int  `json:"accepted"`
	Pending   int  `json:"pending"`
	Disputed  int  `json:"disputed"`
	Rejected  int  `json:"rejected"`
	CanRatify bool `json:"can_ratify"`
}
