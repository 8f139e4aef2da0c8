package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	// Log
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("server.port must be between 1 and 65535, got: %d", c.Server.Port))
	}
	if c.Server.RequestTimeout < 0 {
		errors = append(errors, fmt.Sprintf("server.request_timeout must be >= 0, got: %v", c.Server.RequestTimeout))
	}

	// Detection
	if c.Detection.ConfidenceThreshold <= 0 || c.Detection.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detection.confidence_threshold must be in (0, 1], got: %.2f", c.Detection.ConfidenceThreshold))
	}
	if c.Detection.RawConfidence < 0 || c.Detection.RawConfidence > c.Detection.ConfidenceThreshold {
		errors = append(errors, fmt.Sprintf("detection.raw_confidence must be between 0 and confidence_threshold, got: %.2f", c.Detection.RawConfidence))
	}
	if c.Detection.IoUThreshold <= 0 || c.Detection.IoUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detection.iou_threshold must be in (0, 1], got: %.2f", c.Detection.IoUThreshold))
	}
	if c.Detection.MaxDetections < 1 {
		errors = append(errors, fmt.Sprintf("detection.max_detections must be >= 1, got: %d", c.Detection.MaxDetections))
	}
	for _, size := range []int{c.Detection.InputSize, c.Detection.StreamInputSize} {
		for _, stride := range c.Detection.Strides {
			if stride <= 0 || size%stride != 0 {
				errors = append(errors, fmt.Sprintf("detection input size %d is not divisible by stride %d", size, stride))
			}
		}
	}
	if c.Detection.PointsPerRecyclable < 1 {
		errors = append(errors, fmt.Sprintf("detection.points_per_recyclable must be >= 1, got: %d", c.Detection.PointsPerRecyclable))
	}
	if err := validateURL(c.Detection.EngineURL); err != nil {
		errors = append(errors, fmt.Sprintf("detection.engine_url: %v", err))
	}

	// Info tiers
	if c.Info.Cache.Size < 1 {
		errors = append(errors, fmt.Sprintf("info.cache.size must be >= 1, got: %d", c.Info.Cache.Size))
	}
	if c.Info.Budget <= 0 {
		errors = append(errors, fmt.Sprintf("info.budget must be > 0, got: %v", c.Info.Budget))
	}
	if c.Server.RequestTimeout > 0 && c.Info.Budget+c.Ledger.CommitReserve >= c.Server.RequestTimeout {
		errors = append(errors, fmt.Sprintf("info.budget (%v) plus ledger.commit_reserve (%v) must be less than server.request_timeout (%v)",
			c.Info.Budget, c.Ledger.CommitReserve, c.Server.RequestTimeout))
	}
	if g := c.Info.Generative; g.Enabled {
		if err := validateURL(g.URL); err != nil {
			errors = append(errors, fmt.Sprintf("info.generative.url: %v", err))
		}
		if g.MaxAttempts < 1 {
			errors = append(errors, fmt.Sprintf("info.generative.max_attempts must be >= 1, got: %d", g.MaxAttempts))
		} else if worst := generativeWorstCase(g); worst > c.Info.Budget {
			errors = append(errors, fmt.Sprintf("info.generative worst case %v (max_attempts x timeout + backoff) exceeds info.budget %v", worst, c.Info.Budget))
		}
		if p := c.Info.Generative.Provider; p != "" && p != "ollama" && p != "llama" {
			errors = append(errors, fmt.Sprintf("invalid info.generative.provider: %s (must be: ollama or llama)", p))
		}
	}
	if c.Info.External.Enabled {
		if err := validateURL(c.Info.External.URL); err != nil {
			errors = append(errors, fmt.Sprintf("info.external.url: %v", err))
		}
	}

	// Ledger
	if c.Ledger.MaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("ledger.max_attempts must be >= 1, got: %d", c.Ledger.MaxAttempts))
	}
	if c.Ledger.CommitReserve < 0 {
		errors = append(errors, fmt.Sprintf("ledger.commit_reserve must be >= 0, got: %v", c.Ledger.CommitReserve))
	}

	// Storage
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			errors = append(errors, "storage.path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errors = append(errors, "storage.dsn is required for postgres")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid storage.driver: %s (must be: sqlite or postgres)", c.Storage.Driver))
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		errors = append(errors, "auth.jwt_secret is required (set ECOVISION_JWT_SECRET)")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

// generativeWorstCase is the longest a generative lookup can take: every
// attempt times out and every retry waits its full backoff
func generativeWorstCase(g GenerativeConfig) time.Duration {
	worst := time.Duration(g.MaxAttempts) * g.Timeout
	wait := g.InitialBackoff
	for i := 1; i < g.MaxAttempts; i++ {
		if g.MaxBackoff > 0 && wait > g.MaxBackoff {
			wait = g.MaxBackoff
		}
		worst += wait
		wait *= 2
	}
	return worst
}
