package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// MockClient is a deterministic Classifier for local runs and tests.
type MockClient struct {
	// Err, when set, is returned from every call.
	Err error
}

// NewMockClient creates a new mock classifier.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements Classifier interface.
var _ Classifier = (*MockClient)(nil)

// Classify tags the text with the target language and guesses the intent
// from a few keywords.
func (m *MockClient) Classify(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	target := req.Target()
	translation := req.Text
	if target != req.SourceLanguage {
		translation = fmt.Sprintf("[%s] %s", target, req.Text)
	}
	return &Result{
		MessageID:      req.MessageID,
		Translation:    translation,
		TargetLanguage: target,
		Intent:         guessIntent(req.Text),
	}, nil
}

func guessIntent(text string) domain.Intent {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "agree") || strings.Contains(lower, "accept"):
		return domain.IntentAcceptance
	case strings.Contains(lower, "offer") || strings.Contains(lower, "propose"):
		return domain.IntentOffer
	default:
		return domain.IntentInquiry
	}
}
