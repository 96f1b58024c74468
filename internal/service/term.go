package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/ledger"
	"github.com/xiaot623/gogo/negotiator/policy"
)

func (s *Service) GetTerms(ctx context.Context, sessionID string) ([]domain.SettlementTerm, error) {
	terms, err := s.store.GetTerms(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get terms: %w", err)
	}
	return terms, nil
}

// ProposeTerm adds a pending clause at version 1.
func (s *Service) ProposeTerm(ctx context.Context, sessionID string, req domain.ProposeTermRequest) (*domain.SettlementTerm, error) {
	title := strings.TrimSpace(req.ClauseTitle)
	content := strings.TrimSpace(req.ClauseContent)
	if title == "" || content == "" {
		return nil, validationError("clause_title and clause_content are required")
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, policy.Input{
		Action:        policy.ActionProposeTerm,
		Role:          string(req.ProposedBy),
		SessionStatus: string(session.Status),
	}); err != nil {
		return nil, err
	}

	now := s.now()
	term := &domain.SettlementTerm{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		ClauseTitle:   title,
		ClauseContent: content,
		Status:        domain.TermStatusPending,
		Version:       1,
		ProposedBy:    req.ProposedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateTerm(ctx, term); err != nil {
		return nil, fmt.Errorf("failed to create term: %w", err)
	}

	s.logger.Info("term proposed", zap.String("session_id", sessionID), zap.String("term_id", term.ID))
	s.publish(domain.Change{Table: domain.TableSettlementTerms, Event: domain.ChangeInsert, SessionID: sessionID, Term: term})
	return term, nil
}

// UpdateTermStatus moves a clause through the ledger machine and stores the
// result with a compare-and-set on its current status (and version, when
// the caller supplies one).
func (s *Service) UpdateTermStatus(ctx context.Context, termID string, req domain.UpdateTermStatusRequest) (*domain.SettlementTerm, error) {
	if !req.Status.Valid() {
		return nil, validationError("unknown status %q", req.Status)
	}

	term, err := s.store.GetTerm(ctx, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get term: %w", err)
	}
	if term == nil {
		return nil, fmt.Errorf("term %s: %w", termID, domain.ErrNotFound)
	}
	session, err := s.GetSession(ctx, term.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, policy.Input{
		Action:        policy.ActionUpdateTerm,
		Role:          string(req.Role),
		SessionStatus: string(session.Status),
		TermStatus:    string(term.Status),
		TargetStatus:  string(req.Status),
		ProposedBy:    string(term.ProposedBy),
	}); err != nil {
		return nil, err
	}

	if _, err := ledger.Transition(ctx, term.Status, req.Status); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateTermStatus(ctx, termID, term.Status, req.Status, req.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update term: %w", err)
	}

	s.logger.Info("term status changed",
		zap.String("term_id", termID),
		zap.String("from", string(term.Status)),
		zap.String("to", string(updated.Status)),
		zap.Int("version", updated.Version))
	s.publish(domain.Change{Table: domain.TableSettlementTerms, Event: domain.ChangeUpdate, SessionID: term.SessionID, Term: updated})
	return updated, nil
}
