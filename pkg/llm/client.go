package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// ClientConfig holds configuration for the OpenAI-compatible client
type ClientConfig struct {
	Model      string
	Timeout    time.Duration
	MaxRetries int
	APIURL     string
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Model:      "gpt-4o-mini",
		Timeout:    20 * time.Second,
		MaxRetries: 2,
		APIURL:     defaultAPIURL,
	}
}

// OpenAIClient implements Service against an OpenAI-compatible chat completions API
type OpenAIClient struct {
	logger *logrus.Logger
	apiKey string
	config *ClientConfig
	client *http.Client
}

// NewOpenAIClient creates a new OpenAI-compatible language model client
func NewOpenAIClient(logger *logrus.Logger, config *ClientConfig) *OpenAIClient {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	return &OpenAIClient{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Initialize reads the API key from the environment
func (c *OpenAIClient) Initialize() error {
	c.apiKey = os.Getenv("OPENAI_API_KEY")
	if c.apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	c.logger.WithField("model", c.config.Model).Info("Language model client initialized")
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// GenerateTip implements Service
func (c *OpenAIClient) GenerateTip(ctx context.Context, req *TipRequest) (*TipResult, error) {
	var result TipResult
	if err := c.complete(ctx, PromptTip, req, &result); err != nil {
		return nil, err
	}
	if result.Tip == "" {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "tip result missing tip text")
	}
	return &result, nil
}

// ExtractRequirements implements Service
func (c *OpenAIClient) ExtractRequirements(ctx context.Context, req *ExtractionRequest) ([]RequirementCandidate, error) {
	var result struct {
		Requirements []RequirementCandidate `json:"requirements"`
	}
	if err := c.complete(ctx, PromptExtraction, req, &result); err != nil {
		return nil, err
	}
	return result.Requirements, nil
}

// GenerateStrategy implements Service
func (c *OpenAIClient) GenerateStrategy(ctx context.Context, req *StrategyRequest) (*StrategyResult, error) {
	var result StrategyResult
	if err := c.complete(ctx, PromptStrategy, req, &result); err != nil {
		return nil, err
	}
	if result.Objective == "" {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "strategy result missing objective")
	}
	return &result, nil
}

// GenerateFeedback implements Service
func (c *OpenAIClient) GenerateFeedback(ctx context.Context, req *FeedbackRequest) (*FeedbackResult, error) {
	var result FeedbackResult
	if err := c.complete(ctx, PromptFeedback, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReconcileTips implements Service
func (c *OpenAIClient) ReconcileTips(ctx context.Context, req *ReconciliationRequest) ([]TipUsage, error) {
	var result struct {
		Usages []TipUsage `json:"usages"`
	}
	if err := c.complete(ctx, PromptReconciliation, req, &result); err != nil {
		return nil, err
	}
	return result.Usages, nil
}

// complete performs one structured chat completion and decodes the JSON answer
// into out. Transient HTTP failures are retried with exponential backoff.
func (c *OpenAIClient) complete(ctx context.Context, kind PromptKind, payload interface{}, out interface{}) error {
	start := time.Now()
	var err error
	defer func() { metrics.ObserveLLMRequest(string(kind), start, err) }()

	if c.apiKey == "" {
		err = errors.Wrap(errors.ErrUnavailable, "language model client not initialized")
		return err
	}

	systemPrompt, ok := SystemPrompt(kind)
	if !ok {
		err = errors.New("unknown prompt kind").WithField("kind", kind)
		return err
	}

	userContent, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		err = errors.Wrap(marshalErr, "failed to encode prompt payload")
		return err
	}

	body := chatCompletionsRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userContent)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.3,
	}
	reqBody, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		err = errors.Wrap(marshalErr, "failed to encode completion request")
		return err
	}

	var content string
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 500 * time.Millisecond
			c.logger.WithFields(logrus.Fields{
				"kind":    kind,
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying language model request")
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return err
			case <-time.After(delay):
			}
		}

		content, err = c.doRequest(ctx, reqBody)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			return err
		}
	}
	if err != nil {
		return err
	}

	if decodeErr := json.Unmarshal([]byte(content), out); decodeErr != nil {
		err = errors.Wrap(errors.ErrMalformedResponse, "failed to decode model answer",
			map[string]interface{}{"kind": kind})
		return err
	}
	return nil
}

func (c *OpenAIClient) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to create completion request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", errors.Wrap(errors.ErrUnavailable, fmt.Sprintf("completion API status %d: %s", resp.StatusCode, string(b)))
		}
		return "", errors.New(fmt.Sprintf("completion API status %d: %s", resp.StatusCode, string(b)))
	}

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", errors.Wrap(errors.ErrMalformedResponse, err.Error())
	}
	if len(cr.Choices) == 0 {
		return "", errors.Wrap(errors.ErrMalformedResponse, "completion returned no choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

func isRetryable(err error) bool {
	return errors.Is(err, errors.ErrUnavailable)
}
