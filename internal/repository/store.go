// Package store provides the persistence layer for sessions, messages and
// settlement terms.
package store

import (
	"context"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// Store defines the storage interface.
// Getters return nil, nil when the row does not exist.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// RatifySession flips an active session to ratified when it has at least
	// one term and every term is accepted. It reports whether it did.
	RatifySession(ctx context.Context, sessionID string) (bool, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	AnnotateMessage(ctx context.Context, messageID, translated string, intent domain.Intent) error

	// Settlement term operations
	CreateTerm(ctx context.Context, term *domain.SettlementTerm) error
	GetTerm(ctx context.Context, termID string) (*domain.SettlementTerm, error)
	GetTerms(ctx context.Context, sessionID string) ([]domain.SettlementTerm, error)
	// UpdateTermStatus moves a term from one status to another, bumping its
	// version. When expectedVersion > 0 the stored version must match.
	// Returns domain.ErrVersionConflict when the row changed underneath.
	UpdateTermStatus(ctx context.Context, termID string, from, to domain.TermStatus, expectedVersion int) (*domain.SettlementTerm, error)

	Close() error
}
