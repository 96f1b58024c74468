package classifier

import (
	"time"

	"go.uber.org/zap"
)

// ModeMock selects the mock classifier.
const ModeMock = "MOCK"

// Options configures the gateway-backed classifier.
type Options struct {
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New creates a classifier based on opts.Mode.
// If the mode is MOCK, returns a MockClient; otherwise returns a gateway Client.
func New(opts Options, logger *zap.Logger) Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mode == ModeMock {
		logger.Info("mock mode detected, using mock classifier")
		return NewMockClient()
	}
	if opts.APIKey == "" {
		logger.Warn("ai gateway api key not configured, translations will fail")
	}
	return NewClient(opts.BaseURL, opts.APIKey, opts.Model, opts.Timeout, logger)
}
