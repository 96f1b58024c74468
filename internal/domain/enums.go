// Package domain defines the core domain models for the negotiator.
package domain

// Role identifies which side of the negotiation a party speaks for.
type Role string

const (
	RolePartyA Role = "party_a"
	RolePartyB Role = "party_b"
)

// Valid reports whether r is one of the two negotiating roles.
func (r Role) Valid() bool {
	return r == RolePartyA || r == RolePartyB
}

// Counterpart returns the opposing role.
func (r Role) Counterpart() Role {
	if r == RolePartyA {
		return RolePartyB
	}
	return RolePartyA
}

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusRatified SessionStatus = "ratified"
)

// TermStatus represents the acceptance status of a settlement term.
type TermStatus string

const (
	TermStatusPending  TermStatus = "pending"
	TermStatusAccepted TermStatus = "accepted"
	TermStatusDisputed TermStatus = "disputed"
	TermStatusRejected TermStatus = "rejected"
)

// Valid reports whether s is a known term status.
func (s TermStatus) Valid() bool {
	switch s {
	case TermStatusPending, TermStatusAccepted, TermStatusDisputed, TermStatusRejected:
		return true
	}
	return false
}

// Intent is the classifier-assigned purpose of a chat message.
type Intent string

const (
	IntentOffer      Intent = "offer"
	IntentAcceptance Intent = "acceptance"
	IntentInquiry    Intent = "inquiry"
)

// Valid reports whether i is a known intent label.
func (i Intent) Valid() bool {
	return i == IntentOffer || i == IntentAcceptance || i == IntentInquiry
}

// Language is a supported message language code.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
	LanguageMarathi Language = "mr"
)

// SupportedLanguages lists the languages in translation-target preference order.
var SupportedLanguages = []Language{LanguageEnglish, LanguageHindi, LanguageMarathi}

// LanguageNames maps codes to the names used in classifier prompts.
var LanguageNames = map[Language]string{
	LanguageEnglish: "English",
	LanguageHindi:   "Hindi",
	LanguageMarathi: "Marathi",
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	_, ok := LanguageNames[l]
	return ok
}

// Complement returns the language a message in l is translated into: the
// first supported language other than l.
func (l Language) Complement() Language {
	for _, candidate := range SupportedLanguages {
		if candidate != l {
			return candidate
		}
	}
	return l
}

// Table names the backing-store relation a change belongs to.
type Table string

const (
	TableSessions        Table = "sessions"
	TableMessages        Table = "messages"
	TableSettlementTerms Table = "settlement_terms"
)

// ChangeEvent is the kind of row change delivered on the feed.
type ChangeEvent string

const (
	ChangeInsert ChangeEvent = "INSERT"
	ChangeUpdate ChangeEvent = "UPDATE"
)
