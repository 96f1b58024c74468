package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/policy"
)

func (s *Service) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	messages, err := s.store.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// SendMessage stores a chat message with a provisional inquiry intent and
// starts its translation in the background. Empty drafts never reach the
// store. Annotation failures are logged only; the message stays
// untranslated.
func (s *Service) SendMessage(ctx context.Context, sessionID string, req domain.SendMessageRequest) (*domain.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, validationError("content is required")
	}
	if !req.LanguageCode.Valid() {
		return nil, validationError("unsupported language %q", req.LanguageCode)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, policy.Input{
		Action:        policy.ActionSendMessage,
		Role:          string(req.SenderRole),
		SessionStatus: string(session.Status),
	}); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		SenderRole:      req.SenderRole,
		ContentOriginal: content,
		LanguageCode:    req.LanguageCode,
		Intent:          domain.IntentInquiry,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	s.publish(domain.Change{Table: domain.TableMessages, Event: domain.ChangeInsert, SessionID: sessionID, Message: msg})

	s.annotations.Add(1)
	go func(msg domain.Message) {
		defer s.annotations.Done()
		// Detached from the request: the sender does not wait for translation.
		actx, cancel := context.WithTimeout(context.Background(), s.classifierTimeout())
		defer cancel()
		s.annotate(actx, &msg)
	}(*msg)

	return msg, nil
}

// annotate runs the classifier for msg and stores its translation and
// intent. Any failure leaves the message as it was.
func (s *Service) annotate(ctx context.Context, msg *domain.Message) {
	start := time.Now()
	res, err := s.classifier.Classify(ctx, &classifier.Request{
		MessageID:      msg.ID,
		Text:           msg.ContentOriginal,
		SourceLanguage: msg.LanguageCode,
	})
	if err != nil {
		s.logger.Warn("translation failed, message left untranslated",
			zap.String("message_id", msg.ID),
			zap.String("session_id", msg.SessionID),
			zap.String("kind", classifier.FailureKind(err)),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
		return
	}

	if err := s.store.AnnotateMessage(ctx, msg.ID, res.Translation, res.Intent); err != nil {
		s.logger.Error("failed to store translation", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	updated, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil || updated == nil {
		s.logger.Error("failed to reload annotated message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	s.logger.Debug("message annotated",
		zap.String("message_id", msg.ID),
		zap.String("intent", string(res.Intent)),
		zap.Duration("latency", time.Since(start)))
	s.publish(domain.Change{Table: domain.TableMessages, Event: domain.ChangeUpdate, SessionID: msg.SessionID, Message: updated})
}

// Translate runs the classifier synchronously and returns its result.
// Classifier failures are returned as-is so callers can tell rate limiting
// and quota failures apart from generic ones.
func (s *Service) Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, validationError("content is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.classifierTimeout())
	defer cancel()

	res, err := s.classifier.Classify(ctx, &classifier.Request{
		MessageID:      req.MessageID,
		Text:           req.Content,
		SourceLanguage: req.SourceLanguage,
	})
	if err != nil {
		s.logger.Warn("translate request failed",
			zap.String("message_id", req.MessageID),
			zap.String("kind", classifier.FailureKind(err)),
			zap.Error(err))
		return nil, err
	}
	return &domain.TranslateResponse{
		Translation: res.Translation,
		Intent:      res.Intent,
		MessageID:   req.MessageID,
	}, nil
}
