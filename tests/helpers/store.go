package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedSession inserts an active session with the given id.
func SeedSession(t *testing.T, s store.Store, id string) *domain.Session {
	t.Helper()

	session := &domain.Session{
		ID:        id,
		CaseName:  "Smith v. Jones",
		Status:    domain.SessionStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}

// SeedTerm inserts a term with the given status into a session.
func SeedTerm(t *testing.T, s store.Store, sessionID, id string, status domain.TermStatus, createdAt time.Time) *domain.SettlementTerm {
	t.Helper()

	term := &domain.SettlementTerm{
		ID:            id,
		SessionID:     sessionID,
		ClauseTitle:   "Clause " + id,
		ClauseContent: "Body of " + id,
		Status:        status,
		Version:       1,
		ProposedBy:    domain.RolePartyA,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if err := s.CreateTerm(context.Background(), term); err != nil {
		t.Fatalf("CreateTerm failed: %v", err)
	}
	return term
}
