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

// CreateSession starts a new negotiation. The case name is required.
func (s *Service) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	caseName := strings.TrimSpace(req.CaseName)
	if caseName == "" {
		return nil, validationError("case_name is required")
	}
	role := req.Role
	if role == "" {
		role = domain.RolePartyA
	}
	if !role.Valid() {
		return nil, validationError("unknown role %q", role)
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = string(role)
	}

	session := &domain.Session{
		ID:        uuid.New().String(),
		CaseName:  caseName,
		Status:    domain.SessionStatusActive,
		CreatedAt: s.now(),
		CreatedBy: &createdBy,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created", zap.String("session_id", session.ID), zap.String("role", string(role)))
	s.publish(domain.Change{Table: domain.TableSessions, Event: domain.ChangeInsert, SessionID: session.ID, Session: session})
	return session, nil
}

// GetSession returns the session or ErrNotFound.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return session, nil
}

// GetSnapshot returns the session with all of its messages and terms.
func (s *Service) GetSnapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.GetMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	terms, err := s.GetTerms(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionSnapshot{
		Session:   session,
		Messages:  messages,
		Terms:     terms,
		CanRatify: ledger.CanRatify(terms),
	}, nil
}

// JoinSession checks that role may view the session and returns its
// snapshot. Viewing stays allowed after ratification.
func (s *Service) JoinSession(ctx context.Context, sessionID string, role domain.Role) (*domain.SessionSnapshot, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, policy.Input{
		Action:        policy.ActionViewSession,
		Role:          string(role),
		SessionStatus: string(session.Status),
	}); err != nil {
		return nil, err
	}
	return s.GetSnapshot(ctx, sessionID)
}

// Ratify finalises the session when every term is accepted. When the guard
// does not hold, or the session is already ratified, it is a no-op and
// returns Ratified=false without an error.
func (s *Service) Ratify(ctx context.Context, sessionID string, req domain.RatifyRequest) (*domain.RatifyResult, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.SessionStatusRatified {
		return &domain.RatifyResult{Session: session}, nil
	}
	if err := s.authorize(ctx, policy.Input{
		Action:        policy.ActionRatify,
		Role:          string(req.Role),
		SessionStatus: string(session.Status),
	}); err != nil {
		return nil, err
	}

	terms, err := s.GetTerms(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, changed := ledger.Ratify(ctx, session.Status, terms); !changed {
		return &domain.RatifyResult{Session: session}, nil
	}

	ok, err := s.store.RatifySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to ratify session: %w", err)
	}
	if !ok {
		// A term changed between our read and the guarded write.
		return &domain.RatifyResult{Session: session}, nil
	}

	ratified, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session ratified", zap.String("session_id", sessionID), zap.Int("terms", len(terms)))
	s.publish(domain.Change{Table: domain.TableSessions, Event: domain.ChangeUpdate, SessionID: sessionID, Session: ratified})
	return &domain.RatifyResult{Session: ratified, Ratified: true}, nil
}

// GetContract builds the contract preview from the accepted terms.
func (s *Service) GetContract(ctx context.Context, sessionID string) (*domain.Contract, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	terms, err := s.GetTerms(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	contract := ledger.BuildContract(session, terms)
	return &contract, nil
}

// GetProgress counts the session's terms by status.
func (s *Service) GetProgress(ctx context.Context, sessionID string) (*domain.Progress, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	terms, err := s.GetTerms(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	progress := ledger.Summarize(terms)
	return &progress, nil
}
