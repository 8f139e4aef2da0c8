package info

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/connergroth/EcoVision/internal/logger"
	"github.com/connergroth/EcoVision/internal/models"
)

// ExternalConfig contains configuration for the external recycling API
type ExternalConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// External queries a third-party recycling information API
type External struct {
	cfg        ExternalConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewExternal creates the external API tier
func NewExternal(cfg ExternalConfig, log *logger.Logger) *External {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &External{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// Name returns the tier name
func (e *External) Name() string {
	return "external"
}

type externalInfo struct {
	Recyclable           *bool                  `json:"recyclable"`
	Description          string                 `json:"description"`
	DisposalInstructions string                 `json:"disposal_instructions"`
	EnvironmentalImpact  string                 `json:"environmental_impact"`
	AdditionalInfo       map[string]interface{} `json:"additional_info"`
}

// Lookup fetches guidance for a category. Any failure falls through.
func (e *External) Lookup(ctx context.Context, category models.Category, confidence float64) Outcome {
	var body externalInfo
	endpoint := fmt.Sprintf("%s/recyclable-info?category=%s", e.cfg.URL, url.QueryEscape(string(category)))
	if err := e.getJSON(ctx, endpoint, &body); err != nil {
		return Outcome{Reason: ReasonUnavailable, Err: err}
	}

	recyclable := true
	if body.Recyclable != nil {
		recyclable = *body.Recyclable
	}
	additional := body.AdditionalInfo
	if additional == nil {
		additional = map[string]interface{}{}
	}

	return Outcome{Info: &models.RecyclingInfo{
		Category:             category,
		Recyclable:           recyclable,
		Description:          body.Description,
		DisposalInstructions: body.DisposalInstructions,
		EnvironmentalImpact:  body.EnvironmentalImpact,
		AdditionalInfo:       additional,
		Source:               models.SourceExternal,
	}}
}

// Tips returns general recycling tips, falling back to the built-in list
func (e *External) Tips(ctx context.Context) map[string]interface{} {
	if e.cfg.URL == "" {
		return FallbackTips()
	}
	var tips map[string]interface{}
	if err := e.getJSON(ctx, e.cfg.URL+"/recycling-tips", &tips); err != nil {
		e.logger.Warn("Using fallback recycling tips", "error", err)
		return FallbackTips()
	}
	return tips
}

func (e *External) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("External API returned error", "status", resp.StatusCode, "response", string(data))
		return fmt.Errorf("%w: external API returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}
