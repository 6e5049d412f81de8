// internal/agent/client.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// ReasoningClient produces the next model turn for a conversation history.
// Implementations must be safe for use by a single session goroutine.
type ReasoningClient interface {
	Generate(ctx context.Context, history []*genai.Content) (*genai.GenerateContentResponse, error)
}

// GeminiClient drives the computer-use tool of the Gemini API. The tool is
// pinned to the browser environment so the model only ever proposes actions
// from the predefined browser set, minus the configured exclusions.
type GeminiClient struct {
	client    *genai.Client
	model     string
	genConfig *genai.GenerateContentConfig
	cfg       config.AgentConfig
	logger    *zap.Logger
}

var _ ReasoningClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	genConfig := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{
				ComputerUse: &genai.ComputerUse{
					Environment:                 genai.EnvironmentBrowser,
					ExcludedPredefinedFunctions: cfg.ExcludedActions,
				},
			},
		},
	}

	return &GeminiClient{
		client:    client,
		model:     cfg.Model,
		genConfig: genConfig,
		cfg:       cfg,
		logger:    logger.Named("reasoning.gemini"),
	}, nil
}

// Generate sends the conversation to the model and returns its turn, retrying
// transient API failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, history []*genai.Content) (*genai.GenerateContentResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBaseDelay
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	var response *genai.GenerateContentResponse

	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, history, c.genConfig)
		duration := time.Since(startTime)

		if err != nil {
			return c.classifyAPIError(err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("model returned no candidates"))
		}

		tokens := 0
		if resp.UsageMetadata != nil {
			tokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		c.logger.Info("Model turn complete",
			zap.Duration("duration", duration),
			zap.Int("history_len", len(history)),
			zap.Int("total_tokens", tokens),
		)

		response = resp
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("Transient model API error, retrying...",
			zap.Error(err),
			zap.Duration("next_attempt_in", next),
		)
	}

	retries := backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries))
	if err := backoff.RetryNotify(operation, backoff.WithContext(retries, ctx), notify); err != nil {
		return nil, err
	}

	return response, nil
}

// classifyAPIError decides whether an API failure is worth retrying. Rate
// limits and server-side faults are transient; everything else is permanent.
func (c *GeminiClient) classifyAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Error("Model API returned error status",
			zap.Int("code", apiErr.Code),
			zap.String("status", apiErr.Status),
		)
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	// Unrecognized errors are assumed transient (network faults mostly).
	c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
	return err
}
