package info

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

// GenerativeConfig contains configuration for the text generation tier
type GenerativeConfig struct {
	URL         string
	APIKey      string
	Model       string
	Provider    string // "ollama" or "llama"; derived from URL when empty
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// MinInterval spaces call starts process-wide and at most one call is
	// in flight. Retries wait at least InitialBackoff, doubling up to
	// MaxBackoff, for MaxAttempts in total.
	MinInterval    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Generative asks a text generation service for recycling guidance
type Generative struct {
	cfg        GenerativeConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	inflight   *semaphore.Weighted
	ollama     bool
	logger     *logger.Logger
}

// NewGenerative creates the generation tier. The limiter and the in-flight
// slot are shared by all callers of the returned value.
func NewGenerative(cfg GenerativeConfig, log *logger.Logger) *Generative {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	ollama := cfg.Provider == "ollama"
	if cfg.Provider == "" {
		ollama = strings.Contains(cfg.URL, "ollama") || strings.Contains(cfg.URL, "11434")
	}

	return &Generative{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		inflight:   semaphore.NewWeighted(1),
		ollama:     ollama,
		logger:     log,
	}
}

// Name returns the tier name
func (g *Generative) Name() string {
	return "generative"
}

// Lookup generates guidance for a detection. Zero confidence skips the tier.
func (g *Generative) Lookup(ctx context.Context, category models.Category, confidence float64) Outcome {
	if confidence <= 0 {
		return Outcome{Reason: ReasonSkipped}
	}

	text, err := g.Generate(ctx, BuildPrompt(category, confidence))
	if err != nil {
		reason := ReasonUnavailable
		if errors.Is(err, ErrRateLimited) {
			reason = ReasonRateLimited
		}
		return Outcome{Reason: reason, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return Outcome{Reason: ReasonInvalid, Err: fmt.Errorf("%w: empty generation", ErrUpstreamUnavailable)}
	}

	return Outcome{Info: ParseGeneration(text, category)}
}

// Generate sends a prompt, retrying transient failures with exponential
// backoff. Every attempt first waits for the shared rate limiter.
func (g *Generative) Generate(ctx context.Context, prompt string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = g.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	var text string
	attempt := 0
	op := func() error {
		attempt++
		var err error
		text, err = g.call(ctx, prompt)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Generation attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", g.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return text, nil
}

// call holds the in-flight slot from the limiter wait until the response
// body has been read
func (g *Generative) call(ctx context.Context, prompt string) (string, error) {
	if err := g.inflight.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.inflight.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var payload interface{}
	if g.ollama {
		payload = map[string]interface{}{
			"model":  g.cfg.Model,
			"prompt": prompt,
			"stream": false,
			"options": map[string]interface{}{
				"temperature": g.cfg.Temperature,
				"max_tokens":  g.cfg.MaxTokens,
			},
		}
	} else {
		payload = map[string]interface{}{
			"model":       g.cfg.Model,
			"prompt":      prompt,
			"max_tokens":  g.cfg.MaxTokens,
			"temperature": g.cfg.Temperature,
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	g.logger.Debug("Calling generation service", "model", g.cfg.Model, "ollama", g.ollama)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: generation service returned 429", ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		g.logger.Warn("Generation service returned error", "status", resp.StatusCode, "response", string(body))
		return "", fmt.Errorf("%w: generation service returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out struct {
		Response   string `json:"response"`
		Generation string `json:"generation"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: malformed generation response: %v", ErrUpstreamUnavailable, err)
	}
	if g.ollama {
		return out.Response, nil
	}
	return out.Generation, nil
}

// HealthCheck reports whether the generation endpoint accepts connections
func (g *Generative) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generation service unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}
	return nil
}

// isTransient reports whether a failed call is worth retrying: provider
// rate limiting, network errors and timeouts
func isTransient(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
