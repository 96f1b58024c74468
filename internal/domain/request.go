package domain

// CreateSessionRequest starts a new negotiation.
type CreateSessionRequest struct {
	CaseName  string `json:"case_name"`
	CreatedBy string `json:"created_by,omitempty"`
	Role      Role   `json:"role,omitempty"`
}

// SendMessageRequest carries a chat draft from one party.
type SendMessageRequest struct {
	SenderRole   Role     `json:"sender_role"`
	Content      string   `json:"content"`
	LanguageCode Language `json:"language_code"`
}

// ProposeTermRequest carries a new clause proposal.
type ProposeTermRequest struct {
	ProposedBy    Role   `json:"proposed_by"`
	ClauseTitle   string `json:"clause_title"`
	ClauseContent string `json:"clause_content"`
}

// UpdateTermStatusRequest moves a clause to a new status. ExpectedVersion
// is optional; when non-zero the update only applies to that version.
type UpdateTermStatusRequest struct {
	Role            Role       `json:"role"`
	Status          TermStatus `json:"status"`
	ExpectedVersion int        `json:"expected_version,omitempty"`
}

// RatifyRequest asks to finalise a session.
type RatifyRequest struct {
	Role Role `json:"role"`
}

// RatifyResult reports the outcome of a ratify call. Ratified is false when
// the guard did not hold; the call is then a no-op.
type RatifyResult struct {
	Session  *Session `json:"session"`
	Ratified bool     `json:"ratified"`
}

// TranslateRequest mirrors the translate endpoint's request body.
type TranslateRequest struct {
	MessageID      string   `json:"messageId"`
	Content        string   `json:"content"`
	SourceLanguage Language `json:"sourceLanguage"`
}

// TranslateResponse mirrors the translate endpoint's success body.
type TranslateResponse struct {
	Translation string `json:"translation"`
	Intent      Intent `json:"intent"`
	MessageID   string `json:"messageId"`
}

// SessionSnapshot is the full state of a session at one point in time.
type SessionSnapshot struct {
	Session   *Session         `json:"session"`
	Messages  []Message        `json:"messages"`
	Terms     []SettlementTerm `json:"terms"`
	CanRatify bool             `json:"can_ratify"`
}
