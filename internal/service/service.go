package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/config"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
	"github.com/xiaot623/gogo/negotiator/internal/repository"
	"github.com/xiaot623/gogo/negotiator/policy"
)

type Service struct {
	store        store.Store
	feed         *realtime.Broker
	classifier   classifier.Classifier
	policyEngine *policy.Engine
	config       *config.Config
	logger       *zap.Logger

	now         func() time.Time
	annotations sync.WaitGroup
}

func New(st store.Store, feed *realtime.Broker, cls classifier.Classifier, policyEngine *policy.Engine, cfg *config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        st,
		feed:         feed,
		classifier:   cls,
		policyEngine: policyEngine,
		config:       cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Feed returns the change feed writes are published on.
func (s *Service) Feed() *realtime.Broker {
	return s.feed
}

// Wait blocks until every in-flight message annotation has finished.
func (s *Service) Wait() {
	s.annotations.Wait()
}

// authorize evaluates the policy and turns deny reasons into ErrForbidden.
func (s *Service) authorize(ctx context.Context, input policy.Input) error {
	allowed, reasons, err := s.policyEngine.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !allowed {
		s.logger.Info("policy denied action",
			zap.String("action", input.Action),
			zap.String("role", input.Role),
			zap.Strings("reasons", reasons))
		return fmt.Errorf("%w: %s", domain.ErrForbidden, strings.Join(reasons, "; "))
	}
	return nil
}

func (s *Service) publish(change domain.Change) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(change)
}

func (s *Service) classifierTimeout() time.Duration {
	if s.config == nil || s.config.ClassifierTimeout <= 0 {
		return 30 * time.Second
	}
	return s.config.ClassifierTimeout
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}
