package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
	"github.com/xiaot623/gogo/negotiator/internal/synchronizer"
)

// ErrNotJoined is returned by actions attempted before Join.
var ErrNotJoined = errors.New("not joined to a session")

// Backend is the write side a party routes its actions to.
type Backend interface {
	synchronizer.Source
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error)
	SendMessage(ctx context.Context, sessionID string, req domain.SendMessageRequest) (*domain.Message, error)
	ProposeTerm(ctx context.Context, sessionID string, req domain.ProposeTermRequest) (*domain.SettlementTerm, error)
	UpdateTermStatus(ctx context.Context, termID string, req domain.UpdateTermStatusRequest) (*domain.SettlementTerm, error)
	Ratify(ctx context.Context, sessionID string, req domain.RatifyRequest) (*domain.RatifyResult, error)
}

// Party is one participant's view of a negotiation: the session it has
// joined, the role it acts as and the live mirror of that session.
type Party struct {
	backend  Backend
	feed     *realtime.Broker
	observer synchronizer.Observer
	logger   *zap.Logger

	mu        sync.Mutex
	sessionID string
	role      domain.Role
	mirror    *synchronizer.Synchronizer
}

func NewParty(backend Backend, feed *realtime.Broker, observer synchronizer.Observer, logger *zap.Logger) *Party {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Party{
		backend:  backend,
		feed:     feed,
		observer: observer,
		logger:   logger,
	}
}

// Create starts a new session with the given case name and joins it.
func (p *Party) Create(ctx context.Context, caseName string, role domain.Role) (*domain.Session, error) {
	session, err := p.backend.CreateSession(ctx, domain.CreateSessionRequest{CaseName: caseName, Role: role})
	if err != nil {
		return nil, err
	}
	if err := p.Join(ctx, session.ID, role); err != nil {
		return nil, err
	}
	return session, nil
}

// Join switches the party to sessionID. The previous session's mirror is
// closed before the new one subscribes, so none of its notifications can
// reach the new session's state.
func (p *Party) Join(ctx context.Context, sessionID string, role domain.Role) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mirror != nil {
		p.mirror.Close()
		p.mirror = nil
	}

	mirror := synchronizer.New(sessionID, p.backend, p.feed, p.observer, p.logger)
	if err := mirror.Start(ctx); err != nil {
		mirror.Close()
		p.sessionID, p.role = "", ""
		return err
	}
	p.mirror = mirror
	p.sessionID = sessionID
	p.role = role
	p.logger.Info("joined session", zap.String("session_id", sessionID), zap.String("role", string(role)))
	return nil
}

// JoinLink joins the session encoded in an invite link, as the role it names.
func (p *Party) JoinLink(ctx context.Context, link string) error {
	sessionID, role, err := ParseInviteLink(link)
	if err != nil {
		return err
	}
	return p.Join(ctx, sessionID, role)
}

// Leave closes the current mirror, if any.
func (p *Party) Leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mirror != nil {
		p.mirror.Close()
		p.mirror = nil
	}
	p.sessionID, p.role = "", ""
}

func (p *Party) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *Party) Role() domain.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// Snapshot returns the mirrored state. ok is false before Join.
func (p *Party) Snapshot() (synchronizer.Snapshot, bool) {
	p.mu.Lock()
	mirror := p.mirror
	p.mu.Unlock()
	if mirror == nil {
		return synchronizer.Snapshot{}, false
	}
	return mirror.Snapshot(), true
}

// InviteLink returns the link the counterpart uses to join.
func (p *Party) InviteLink(baseURL string) (string, error) {
	sessionID, role, err := p.current()
	if err != nil {
		return "", err
	}
	return InviteLink(baseURL, sessionID, role)
}

func (p *Party) current() (string, domain.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mirror == nil {
		return "", "", ErrNotJoined
	}
	return p.sessionID, p.role, nil
}

// SendMessage posts a chat message as this party. Blank drafts are rejected
// without touching the backend.
func (p *Party) SendMessage(ctx context.Context, text string, language domain.Language) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is empty", domain.ErrValidation)
	}
	sessionID, role, err := p.current()
	if err != nil {
		return nil, err
	}
	return p.backend.SendMessage(ctx, sessionID, domain.SendMessageRequest{
		SenderRole:   role,
		Content:      text,
		LanguageCode: language,
	})
}

// ProposeTerm proposes a new clause as this party.
func (p *Party) ProposeTerm(ctx context.Context, title, body string) (*domain.SettlementTerm, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: clause title and body are required", domain.ErrValidation)
	}
	sessionID, role, err := p.current()
	if err != nil {
		return nil, err
	}
	return p.backend.ProposeTerm(ctx, sessionID, domain.ProposeTermRequest{
		ProposedBy:    role,
		ClauseTitle:   title,
		ClauseContent: body,
	})
}

// SetTermStatus changes a clause's status. expectedVersion may be zero.
func (p *Party) SetTermStatus(ctx context.Context, termID string, status domain.TermStatus, expectedVersion int) (*domain.SettlementTerm, error) {
	_, role, err := p.current()
	if err != nil {
		return nil, err
	}
	return p.backend.UpdateTermStatus(ctx, termID, domain.UpdateTermStatusRequest{
		Role:            role,
		Status:          status,
		ExpectedVersion: expectedVersion,
	})
}

// Ratify finalises the session. It does nothing unless every mirrored
// clause is accepted; the backend checks the guard again.
func (p *Party) Ratify(ctx context.Context) (*domain.RatifyResult, error) {
	p.mu.Lock()
	mirror, sessionID, role := p.mirror, p.sessionID, p.role
	p.mu.Unlock()
	if mirror == nil {
		return nil, ErrNotJoined
	}

	snap := mirror.Snapshot()
	if !snap.CanRatify {
		return &domain.RatifyResult{Session: snap.Session}, nil
	}
	return p.backend.Ratify(ctx, sessionID, domain.RatifyRequest{Role: role})
}
