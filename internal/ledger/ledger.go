// Package ledger holds the settlement clause and session state machines and
// the derived views (ratification guard, progress, contract preview).
package ledger

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// Term triggers are named after the status they lead to.
const (
	triggerAccept  = "accept"
	triggerDispute = "dispute"
	triggerReject  = "reject"
	triggerRatify  = "ratify"
)

var triggerFor = map[domain.TermStatus]string{
	domain.TermStatusAccepted: triggerAccept,
	domain.TermStatusDisputed: triggerDispute,
	domain.TermStatusRejected: triggerReject,
}

var statusFor = map[string]domain.TermStatus{
	triggerAccept:  domain.TermStatusAccepted,
	triggerDispute: domain.TermStatusDisputed,
	triggerReject:  domain.TermStatusRejected,
}

// newTermMachine builds a clause machine positioned at current.
// Nothing re-enters pending; accepted and rejected are final.
func newTermMachine(current domain.TermStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)

	sm.Configure(domain.TermStatusPending).
		Permit(triggerAccept, domain.TermStatusAccepted).
		Permit(triggerDispute, domain.TermStatusDisputed).
		Permit(triggerReject, domain.TermStatusRejected)

	// A disputed clause can still be settled either way.
	sm.Configure(domain.TermStatusDisputed).
		Permit(triggerAccept, domain.TermStatusAccepted).
		Permit(triggerReject, domain.TermStatusRejected)

	sm.Configure(domain.TermStatusAccepted)
	sm.Configure(domain.TermStatusRejected)
	return sm
}

// Transition validates moving a clause from one status to another and
// returns the resulting status.
func Transition(ctx context.Context, from, to domain.TermStatus) (domain.TermStatus, error) {
	if !from.Valid() || !to.Valid() {
		return from, fmt.Errorf("%w: unknown status %q -> %q", domain.ErrValidation, from, to)
	}
	trigger, ok := triggerFor[to]
	if !ok {
		return from, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	sm := newTermMachine(from)
	if err := sm.FireCtx(ctx, trigger); err != nil {
		return from, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return sm.MustState().(domain.TermStatus), nil
}

// AllowedTargets lists the statuses a clause in the given status may move to.
func AllowedTargets(from domain.TermStatus) []domain.TermStatus {
	triggers, err := newTermMachine(from).PermittedTriggers()
	if err != nil {
		return nil
	}
	targets := make([]domain.TermStatus, 0, len(triggers))
	for _, status := range []domain.TermStatus{domain.TermStatusAccepted, domain.TermStatusDisputed, domain.TermStatusRejected} {
		for _, trig := range triggers {
			if statusFor[trig.(string)] == status {
				targets = append(targets, status)
			}
		}
	}
	return targets
}

// CanRatify holds iff there is at least one term and every term is accepted.
func CanRatify(terms []domain.SettlementTerm) bool {
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		if term.Status != domain.TermStatusAccepted {
			return false
		}
	}
	return true
}

// Ratify runs the session machine. It reports whether the session moves
// from active to ratified; a failed guard or an already ratified session is
// a no-op and not an error.
func Ratify(ctx context.Context, status domain.SessionStatus, terms []domain.SettlementTerm) (domain.SessionStatus, bool) {
	sm := stateless.NewStateMachine(status)
	sm.Configure(domain.SessionStatusActive).
		Permit(triggerRatify, domain.SessionStatusRatified, func(_ context.Context, _ ...any) bool {
			return CanRatify(terms)
		}).
		Ignore(triggerRatify, func(_ context.Context, _ ...any) bool {
			return !CanRatify(terms)
		})
	sm.Configure(domain.SessionStatusRatified).
		Ignore(triggerRatify)

	if err := sm.FireCtx(ctx, triggerRatify); err != nil {
		return status, false
	}
	next := sm.MustState().(domain.SessionStatus)
	return next, next != status
}

// Summarize counts terms by status.
func Summarize(terms []domain.SettlementTerm) domain.Progress {
	p := domain.Progress{Total: len(terms)}
	for _, term := range terms {
		switch term.Status {
		case domain.TermStatusAccepted:
			p.Accepted++
		case domain.TermStatusPending:
			p.Pending++
		case domain.TermStatusDisputed:
			p.Disputed++
		case domain.TermStatusRejected:
			p.Rejected++
		}
	}
	p.CanRatify = CanRatify(terms)
	return p
}

// BuildContract renders the accepted terms, in order, as numbered articles.
func BuildContract(session *domain.Session, terms []domain.SettlementTerm) domain.Contract {
	contract := domain.Contract{Articles: []domain.Article{}}
	if session != nil {
		contract.SessionID = session.ID
		contract.CaseName = session.CaseName
		contract.Status = session.Status
	}
	if contract.CaseName == "" {
		contract.CaseName = "Untitled"
	}
	for _, term := range terms {
		if term.Status != domain.TermStatusAccepted {
			continue
		}
		contract.Articles = append(contract.Articles, domain.Article{
			Number:  len(contract.Articles) + 1,
			TermID:  term.ID,
			Title:   term.ClauseTitle,
			Content: term.ClauseContent,
		})
	}
	return contract
}
