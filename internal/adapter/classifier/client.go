package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

const toolName = "translate_and_classify"

// ChatCompleter is the slice of the OpenAI client the classifier needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client classifies messages through an OpenAI-compatible AI gateway by
// forcing a single function call.
type Client struct {
	llm    ChatCompleter
	model  string
	logger *zap.Logger
}

// NewClient creates a gateway-backed classifier.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return NewClientWithCompleter(openai.NewClientWithConfig(cfg), model, logger)
}

// NewClientWithCompleter wraps an existing chat completer.
func NewClientWithCompleter(llm ChatCompleter, model string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{llm: llm, model: model, logger: logger}
}

// toolArguments is the shape of the forced function call's arguments.
type toolArguments struct {
	Translation string `json:"translation"`
	Intent      string `json:"intent"`
}

// Classify translates req.Text and labels its intent.
func (c *Client) Classify(ctx context.Context, req *Request) (*Result, error) {
	target := req.Target()
	result := &Result{
		MessageID:      req.MessageID,
		Translation:    req.Text,
		TargetLanguage: target,
		Intent:         domain.IntentInquiry,
	}

	resp, err := c.llm.CreateChatCompletion(ctx, c.buildRequest(req, target))
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		c.logger.Warn("classifier returned no tool call, using original text",
			zap.String("message_id", req.MessageID))
		return result, nil
	}

	var args toolArguments
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.ToolCalls[0].Function.Arguments), &args); err != nil {
		c.logger.Warn("failed to parse classifier arguments, using original text",
			zap.String("message_id", req.MessageID), zap.Error(err))
		return result, nil
	}

	// Same-language requests keep the text verbatim; only the intent is used.
	if args.Translation != "" && target != req.SourceLanguage {
		result.Translation = args.Translation
	}
	if intent := domain.Intent(args.Intent); intent.Valid() {
		result.Intent = intent
	}
	return result, nil
}

func (c *Client) buildRequest(req *Request, target domain.Language) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.SourceLanguage, target)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        toolName,
				Description: "Translate legal text and classify intent",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"translation": {Type: jsonschema.String, Description: "The translated text"},
						"intent": {
							Type: jsonschema.String,
							Enum: []string{string(domain.IntentOffer), string(domain.IntentAcceptance), string(domain.IntentInquiry)},
						},
					},
					Required:             []string{"translation", "intent"},
					AdditionalProperties: false,
				},
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolName},
		},
	}
}

func languageName(l domain.Language) string {
	if name, ok := domain.LanguageNames[l]; ok {
		return name
	}
	return string(l)
}

func systemPrompt(source, target domain.Language) string {
	return fmt.Sprintf(`You are a legal translation and intent classification assistant. The supported languages are English (en), Hindi (hi), and Marathi (mr).
Given a message in a legal negotiation context:
1. Translate the text from %s to %s. If the source is already in the target language, provide the same text.
2. Classify the intent as one of: "offer" (proposing terms), "acceptance" (agreeing to terms), or "inquiry" (asking questions or making general statements).

Respond ONLY with valid JSON: {"translation": "...", "intent": "offer|acceptance|inquiry"}`,
		languageName(source), languageName(target))
}

// classifyError maps gateway failures onto the classifier's failure kinds.
func classifyError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
