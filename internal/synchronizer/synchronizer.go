package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/ledger"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
)

// Source is the read side of the backing store the mirror loads from.
type Source interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	GetTerms(ctx context.Context, sessionID string) ([]domain.SettlementTerm, error)
}

type UpdateKind string

const (
	// UpdateLoaded follows a bulk load, successful or not. Observers should
	// re-read the whole Snapshot.
	UpdateLoaded UpdateKind = "loaded"
	// UpdateChange follows one applied change notification.
	UpdateChange UpdateKind = "change"
)

type Update struct {
	Kind UpdateKind
	// Change is set for UpdateChange.
	Change *domain.Change
	// Snapshot is set for UpdateLoaded.
	Snapshot *Snapshot
	// CanRatify is the ratification guard after the update was applied.
	CanRatify bool
}

// Observer is called on the synchronizer's goroutine after each update has
// been applied. It must not block for long and must not call Close.
type Observer func(Update)

// Snapshot is a copy of the mirror's state.
type Snapshot struct {
	Session   *domain.Session
	Messages  []domain.Message
	Terms     []domain.SettlementTerm
	Loading   bool
	Err       error
	CanRatify bool
}

// Synchronizer keeps a local mirror of one session's messages and terms,
// loaded in bulk and then kept current from the change feed.
type Synchronizer struct {
	sessionID string
	source    Source
	feed      *realtime.Broker
	observer  Observer
	logger    *zap.Logger

	mu       sync.RWMutex
	session  *domain.Session
	messages []domain.Message
	terms    []domain.SettlementTerm
	loading  bool
	err      error

	subs    []*realtime.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
	runMu   sync.Mutex
}

func New(sessionID string, source Source, feed *realtime.Broker, observer Observer, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		sessionID: sessionID,
		source:    source,
		feed:      feed,
		observer:  observer,
		logger:    logger.With(zap.String("session_id", sessionID)),
		loading:   true,
		messages:  []domain.Message{},
		terms:     []domain.SettlementTerm{},
	}
}

func (s *Synchronizer) SessionID() string {
	return s.sessionID
}

// Start subscribes to the session's changes, performs the initial load and
// then applies changes until Close. Subscriptions are opened before the load
// so nothing committed during it is missed; replays are deduplicated by id.
// A load error is returned and recorded in the snapshot, but the
// synchronizer keeps running.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.started || s.closed {
		s.runMu.Unlock()
		return errors.New("synchronizer already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.subs = s.subscribe()
	subs := s.subs
	s.runMu.Unlock()

	err := s.load(ctx)
	s.notifyLoaded()

	go s.run(runCtx, subs)
	return err
}

// Close cancels the subscriptions and waits for the apply loop to exit. No
// observer call happens after Close returns.
func (s *Synchronizer) Close() {
	s.runMu.Lock()
	if s.closed {
		s.runMu.Unlock()
		return
	}
	s.closed = true
	cancel, done, subs := s.cancel, s.done, s.subs
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for _, sub := range subs {
		sub.Cancel()
	}
	<-done
	s.logger.Debug("synchronizer closed")
}

func (s *Synchronizer) subscribe() []*realtime.Subscription {
	both := []domain.ChangeEvent{domain.ChangeInsert, domain.ChangeUpdate}
	return []*realtime.Subscription{
		s.feed.Subscribe(realtime.Filter{Table: domain.TableMessages, SessionID: s.sessionID, Events: both}),
		s.feed.Subscribe(realtime.Filter{Table: domain.TableSettlementTerms, SessionID: s.sessionID, Events: both}),
		s.feed.Subscribe(realtime.Filter{Table: domain.TableSessions, SessionID: s.sessionID, Events: []domain.ChangeEvent{domain.ChangeUpdate}}),
	}
}

// load reads the session, its messages and its terms in parallel. On any
// failure the mirror is left empty.
func (s *Synchronizer) load(ctx context.Context) error {
	var (
		session  *domain.Session
		messages []domain.Message
		terms    []domain.SettlementTerm
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		session, err = s.source.GetSession(gctx, s.sessionID)
		if err == nil && session == nil {
			err = fmt.Errorf("session %s: %w", s.sessionID, domain.ErrNotFound)
		}
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = s.source.GetMessages(gctx, s.sessionID, 0)
		return err
	})
	g.Go(func() error {
		var err error
		terms, err = s.source.GetTerms(gctx, s.sessionID)
		return err
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.logger.Error("failed to load session", zap.Error(err))
		s.err = err
		s.session = nil
		s.messages = []domain.Message{}
		s.terms = []domain.SettlementTerm{}
		return err
	}

	s.err = nil
	s.session = session
	s.messages = make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		s.messages = upsertMessage(s.messages, m)
	}
	s.terms = make([]domain.SettlementTerm, 0, len(terms))
	for _, t := range terms {
		s.terms = upsertTerm(s.terms, t)
	}
	s.logger.Debug("session loaded", zap.Int("messages", len(s.messages)), zap.Int("terms", len(s.terms)))
	return nil
}

func (s *Synchronizer) run(ctx context.Context, subs []*realtime.Subscription) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case change, ok := <-subs[0].C():
			if !ok {
				subs = s.resync(ctx, subs)
				continue
			}
			s.apply(change)
		case change, ok := <-subs[1].C():
			if !ok {
				subs = s.resync(ctx, subs)
				continue
			}
			s.apply(change)
		case change, ok := <-subs[2].C():
			if !ok {
				subs = s.resync(ctx, subs)
				continue
			}
			s.apply(change)
		}
	}
}

// resync replaces every subscription and reloads after one of them was
// dropped by the feed.
func (s *Synchronizer) resync(ctx context.Context, old []*realtime.Subscription) []*realtime.Subscription {
	if ctx.Err() != nil {
		return old
	}
	for _, sub := range old {
		sub.Cancel()
	}

	s.runMu.Lock()
	if s.closed {
		s.runMu.Unlock()
		return old
	}
	subs := s.subscribe()
	s.subs = subs
	s.runMu.Unlock()

	s.logger.Warn("change feed overflowed, resyncing")
	_ = s.load(ctx)
	s.notifyLoaded()
	return subs
}

func (s *Synchronizer) apply(change domain.Change) {
	if change.SessionID != s.sessionID {
		return
	}

	s.mu.Lock()
	switch change.Table {
	case domain.TableMessages:
		if change.Message == nil {
			s.mu.Unlock()
			return
		}
		s.messages = upsertMessage(s.messages, *change.Message)
	case domain.TableSettlementTerms:
		if change.Term == nil {
			s.mu.Unlock()
			return
		}
		s.terms = upsertTerm(s.terms, *change.Term)
	case domain.TableSessions:
		if change.Session == nil {
			s.mu.Unlock()
			return
		}
		sess := *change.Session
		s.session = &sess
	}
	canRatify := ledger.CanRatify(s.terms)
	s.mu.Unlock()

	s.notify(Update{Kind: UpdateChange, Change: &change, CanRatify: canRatify})
}

func (s *Synchronizer) notifyLoaded() {
	if s.observer == nil {
		return
	}
	snap := s.Snapshot()
	s.observer(Update{Kind: UpdateLoaded, Snapshot: &snap, CanRatify: snap.CanRatify})
}

func (s *Synchronizer) notify(u Update) {
	if s.observer != nil {
		s.observer(u)
	}
}

// Snapshot returns a copy of the current mirror.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Messages:  append([]domain.Message(nil), s.messages...),
		Terms:     append([]domain.SettlementTerm(nil), s.terms...),
		Loading:   s.loading,
		Err:       s.err,
		CanRatify: ledger.CanRatify(s.terms),
	}
	if s.session != nil {
		sess := *s.session
		snap.Session = &sess
	}
	return snap
}

// CanRatify reports whether every mirrored term is accepted.
func (s *Synchronizer) CanRatify() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledger.CanRatify(s.terms)
}

// Loading reports whether the initial load is still in progress.
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// upsertMessage replaces a message with the same id in place, or inserts it
// after every message created at or before it.
func upsertMessage(list []domain.Message, m domain.Message) []domain.Message {
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			return list
		}
	}
	i := len(list)
	for i > 0 && list[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	list = append(list, domain.Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

// upsertTerm replaces a term with the same id in place, or inserts it in
// creation order.
func upsertTerm(list []domain.SettlementTerm, t domain.SettlementTerm) []domain.SettlementTerm {
	for i := range list {
		if list[i].ID == t.ID {
			list[i] = t
			return list
		}
	}
	i := len(list)
	for i > 0 && list[i-1].CreatedAt.After(t.CreatedAt) {
		i--
	}
	list = append(list, domain.SettlementTerm{})
	copy(list[i+1:], list[i:])
	list[i] = t
	return list
}
