package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func seedSession(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	session := &domain.Session{ID: id, CaseName: "Case " + id, Status: domain.SessionStatusActive, CreatedAt: time.Now().UTC()}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}

func seedTerm(t *testing.T, store *SQLiteStore, sessionID, id string, status domain.TermStatus, at time.Time) {
	t.Helper()
	term := &domain.SettlementTerm{
		ID: id, SessionID: sessionID, ClauseTitle: "T" + id, ClauseContent: "C" + id,
		Status: status, Version: 1, ProposedBy: domain.RolePartyA, CreatedAt: at, UpdatedAt: at,
	}
	if err := store.CreateTerm(context.Background(), term); err != nil {
		t.Fatalf("CreateTerm failed: %v", err)
	}
}

func TestSQLiteStoreSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	creator := "party_a"
	session := &domain.Session{
		ID:        "s1",
		CaseName:  "Smith v. Jones",
		Status:    domain.SessionStatusActive,
		CreatedAt: time.Now().UTC(),
		CreatedBy: &creator,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.CaseName != "Smith v. Jones" || got.Status != domain.SessionStatusActive {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CreatedBy == nil || *got.CreatedBy != "party_a" {
		t.Fatalf("unexpected created_by: %v", got.CreatedBy)
	}

	missing, err := store.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing session, got %+v, %v", missing, err)
	}
}

func TestSQLiteStoreMessagesOrderedAndAnnotated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	seedSession(t, store, "s1")

	base := time.Now().UTC()
	// Insert out of order; reads must come back by created_at.
	for i, offset := range []int{2, 0, 1} {
		msg := &domain.Message{
			ID:              []string{"m3", "m1", "m2"}[i],
			SessionID:       "s1",
			SenderRole:      domain.RolePartyA,
			ContentOriginal: "hello",
			LanguageCode:    domain.LanguageEnglish,
			Intent:          domain.IntentInquiry,
			CreatedAt:       base.Add(time.Duration(offset) * time.Second),
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := store.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if messages[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, messages[i].ID)
		}
	}
	if messages[0].ContentTranslated != nil {
		t.Fatalf("expected no translation yet")
	}

	if err := store.AnnotateMessage(ctx, "m1", "नमस्ते", domain.IntentOffer); err != nil {
		t.Fatalf("AnnotateMessage failed: %v", err)
	}
	got, err := store.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.ContentTranslated == nil || *got.ContentTranslated != "नमस्ते" || got.Intent != domain.IntentOffer {
		t.Fatalf("unexpected annotation: %+v", got)
	}

	if err := store.AnnotateMessage(ctx, "missing", "x", domain.IntentOffer); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	limited, err := store.GetMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(limited))
	}
}

func TestSQLiteStoreUpdateTermStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	seedSession(t, store, "s1")
	seedTerm(t, store, "s1", "t1", domain.TermStatusPending, time.Now().UTC())

	updated, err := store.UpdateTermStatus(ctx, "t1", domain.TermStatusPending, domain.TermStatusDisputed, 1)
	if err != nil {
		t.Fatalf("UpdateTermStatus failed: %v", err)
	}
	if updated.Status != domain.TermStatusDisputed || updated.Version != 2 {
		t.Fatalf("unexpected term: %+v", updated)
	}

	// Stale version
	if _, err := store.UpdateTermStatus(ctx, "t1", domain.TermStatusDisputed, domain.TermStatusAccepted, 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	// Stale status
	if _, err := store.UpdateTermStatus(ctx, "t1", domain.TermStatusPending, domain.TermStatusAccepted, 0); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if _, err := store.UpdateTermStatus(ctx, "nope", domain.TermStatusPending, domain.TermStatusAccepted, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	updated, err = store.UpdateTermStatus(ctx, "t1", domain.TermStatusDisputed, domain.TermStatusAccepted, 0)
	if err != nil {
		t.Fatalf("UpdateTermStatus failed: %v", err)
	}
	if updated.Version != 3 {
		t.Fatalf("expected version 3, got %d", updated.Version)
	}
}

func TestSQLiteStoreRatifySession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	seedSession(t, store, "s1")

	ok, err := store.RatifySession(ctx, "s1")
	if err != nil || ok {
		t.Fatalf("empty session must not ratify: ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC()
	seedTerm(t, store, "s1", "t1", domain.TermStatusAccepted, now)
	seedTerm(t, store, "s1", "t2", domain.TermStatusDisputed, now.Add(time.Second))

	ok, err = store.RatifySession(ctx, "s1")
	if err != nil || ok {
		t.Fatalf("disputed term must block ratification: ok=%v err=%v", ok, err)
	}

	if _, err := store.UpdateTermStatus(ctx, "t2", domain.TermStatusDisputed, domain.TermStatusAccepted, 0); err != nil {
		t.Fatalf("UpdateTermStatus failed: %v", err)
	}
	ok, err = store.RatifySession(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("expected ratification: ok=%v err=%v", ok, err)
	}

	session, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != domain.SessionStatusRatified {
		t.Fatalf("expected ratified, got %s", session.Status)
	}

	ok, err = store.RatifySession(ctx, "s1")
	if err != nil || ok {
		t.Fatalf("second ratify must be a no-op: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreTermsOrdered(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	seedSession(t, store, "s1")
	seedSession(t, store, "s2")

	now := time.Now().UTC()
	seedTerm(t, store, "s1", "b", domain.TermStatusPending, now.Add(time.Second))
	seedTerm(t, store, "s1", "a", domain.TermStatusPending, now)
	seedTerm(t, store, "s2", "c", domain.TermStatusPending, now)

	terms, err := store.GetTerms(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTerms failed: %v", err)
	}
	if len(terms) != 2 || terms[0].ID != "a" || terms[1].ID != "b" {
		t.Fatalf("unexpected terms: %+v", terms)
	}
}

func TestSQLiteStoreInsertsRequireActiveSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	seedSession(t, store, "s1")

	now := time.Now().UTC()
	seedTerm(t, store, "s1", "t1", domain.TermStatusAccepted, now)
	if ok, err := store.RatifySession(ctx, "s1"); err != nil || !ok {
		t.Fatalf("expected ratification: ok=%v err=%v", ok, err)
	}

	term := &domain.SettlementTerm{
		ID: "t2", SessionID: "s1", ClauseTitle: "Late", ClauseContent: "Late clause",
		Status: domain.TermStatusPending, Version: 1, ProposedBy: domain.RolePartyB, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateTerm(ctx, term); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for term in ratified session, got %v", err)
	}
	msg := &domain.Message{
		ID: "m1", SessionID: "s1", SenderRole: domain.RolePartyB, ContentOriginal: "wait",
		LanguageCode: domain.LanguageEnglish, Intent: domain.IntentInquiry, CreatedAt: now,
	}
	if err := store.CreateMessage(ctx, msg); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for message in ratified session, got %v", err)
	}
	msg.SessionID = "missing"
	if err := store.CreateMessage(ctx, msg); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for message in missing session, got %v", err)
	}

	terms, err := store.GetTerms(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTerms failed: %v", err)
	}
	if len(terms) != 1 || terms[0].Status != domain.TermStatusAccepted {
		t.Fatalf("ratified session must keep only its accepted term, got %+v", terms)
	}
}
