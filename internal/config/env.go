package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies ECOVISION_* environment variables on top of the
// file configuration. Secrets are expected to arrive this way (or via .env).
func applyEnvOverrides(cfg *Config) {
	// Server
	if val := os.Getenv("ECOVISION_HOST"); val != "" {
		cfg.Server.Host = val
	}
	cfg.Server.Port = GetEnvInt("ECOVISION_PORT", cfg.Server.Port)
	cfg.Server.RequestTimeout = GetEnvDuration("ECOVISION_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	if val := os.Getenv("ECOVISION_ALLOWED_ORIGINS"); val != "" {
		cfg.Server.AllowedOrigins = splitList(val)
	}
	if val := os.Getenv("ECOVISION_DATA_DIR"); val != "" {
		cfg.Server.DataDir = val
	}

	// Detection
	if val := os.Getenv("ECOVISION_ENGINE_URL"); val != "" {
		cfg.Detection.EngineURL = val
	}
	cfg.Detection.ConfidenceThreshold = GetEnvFloat64("ECOVISION_CONFIDENCE_THRESHOLD", cfg.Detection.ConfidenceThreshold)
	cfg.Detection.PointsPerRecyclable = GetEnvInt("ECOVISION_POINTS_PER_RECYCLABLE", cfg.Detection.PointsPerRecyclable)
	if val := os.Getenv("ECOVISION_LABELS"); val != "" {
		cfg.Detection.Labels = splitList(val)
	}

	// Recycling information tiers
	cfg.Info.Generative.Enabled = GetEnvBool("ECOVISION_GENERATIVE_ENABLED", cfg.Info.Generative.Enabled)
	if val := os.Getenv("ECOVISION_GENERATIVE_URL"); val != "" {
		cfg.Info.Generative.URL = val
	}
	if val := os.Getenv("ECOVISION_GENERATIVE_API_KEY"); val != "" {
		cfg.Info.Generative.APIKey = val
	}
	if val := os.Getenv("ECOVISION_GENERATIVE_MODEL"); val != "" {
		cfg.Info.Generative.Model = val
	}
	cfg.Info.External.Enabled = GetEnvBool("ECOVISION_EXTERNAL_ENABLED", cfg.Info.External.Enabled)
	if val := os.Getenv("ECOVISION_EXTERNAL_URL"); val != "" {
		cfg.Info.External.URL = val
	}
	if val := os.Getenv("ECOVISION_EXTERNAL_API_KEY"); val != "" {
		cfg.Info.External.APIKey = val
	}

	// Storage
	if val := os.Getenv("ECOVISION_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("ECOVISION_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("ECOVISION_DATABASE_URL"); val != "" {
		cfg.Storage.DSN = val
	}

	// Auth
	if val := os.Getenv("ECOVISION_JWT_SECRET"); val != "" {
		cfg.Auth.JWTSecret = val
	}
	if val := os.Getenv("ECOVISION_JWT_ISSUER"); val != "" {
		cfg.Auth.Issuer = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return defaultValue
	}
	return result
}
