// Package classifier translates negotiation messages and labels their intent.
package classifier

import (
	"context"
	"errors"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// Classifier translates a message into the counterpart language and labels
// its intent.
type Classifier interface {
	Classify(ctx context.Context, req *Request) (*Result, error)
}

// Request is the classifier input. TargetLanguage is optional and defaults
// to SourceLanguage.Complement().
type Request struct {
	MessageID      string
	Text           string
	SourceLanguage domain.Language
	TargetLanguage domain.Language
}

// Target resolves the language the text is translated into.
func (r *Request) Target() domain.Language {
	if r.TargetLanguage != "" {
		return r.TargetLanguage
	}
	return r.SourceLanguage.Complement()
}

// Result is the classifier output.
type Result struct {
	MessageID      string
	Translation    string
	TargetLanguage domain.Language
	Intent         domain.Intent
}

// Failure kinds. Callers decide on retries with errors.Is; none of them is
// retried today.
var (
	ErrRateLimited   = errors.New("classifier rate limited")
	ErrQuotaExceeded = errors.New("classifier payment required")
	ErrUnavailable   = errors.New("classifier unavailable")
)

// FailureKind names the failure class of err for logs and metrics.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "failed"
	}
}

// Ensure Client implements Classifier interface.
var _ Classifier = (*Client)(nil)
