package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log,omitempty"`
	Detection DetectionConfig `yaml:"detection"`
	Info      InfoConfig      `yaml:"info"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	DataDir        string        `yaml:"data_dir"`
}

// DetectionConfig contains model and decision settings for the detection path
type DetectionConfig struct {
	EngineURL     string        `yaml:"engine_url"`
	EngineTimeout time.Duration `yaml:"engine_timeout"`

	// ConfidenceThreshold decides whether a detection is accepted (full path
	// and streaming path). RawConfidence filters candidates before NMS.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	RawConfidence       float64 `yaml:"raw_confidence"`
	IoUThreshold        float64 `yaml:"iou_threshold"`
	MaxDetections       int     `yaml:"max_detections"`
	Agnostic            bool    `yaml:"agnostic"`

	InputSize       int      `yaml:"input_size"`
	StreamInputSize int      `yaml:"stream_input_size"`
	Strides         []int    `yaml:"strides"`
	Labels          []string `yaml:"labels"`

	PointsPerRecyclable int `yaml:"points_per_recyclable"`
}

// InfoConfig contains recycling information tier configuration. Budget
// bounds the time one detection may spend resolving information before the
// fallback answers.
type InfoConfig struct {
	Budget     time.Duration    `yaml:"budget"`
	Cache      CacheConfig      `yaml:"cache"`
	Generative GenerativeConfig `yaml:"generative"`
	External   ExternalConfig   `yaml:"external"`
}

// CacheConfig bounds the recycling information cache
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// GenerativeConfig contains text generation service configuration
type GenerativeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Provider       string        `yaml:"provider"` // "ollama" or "llama"
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
	MinInterval    time.Duration `yaml:"min_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ExternalConfig contains external recycling API configuration
type ExternalConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig contains reward ledger configuration
type LedgerConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CommitReserve  time.Duration `yaml:"commit_reserve"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SweepBatch     int           `yaml:"sweep_batch"`
	HistoryWindow  time.Duration `yaml:"history_window"`
}

// StorageConfig selects and configures the ledger store
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig contains bearer credential verification settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads .env, parses the configuration file and applies environment
// overrides. An empty path with no config file on disk yields defaults.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	explicit := configPath != ""
	if !explicit {
		configPath = getDefaultConfigPath()
	}

	var cfg Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/ecovision/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// DefaultLabels is the model class order of the bundled detector
var DefaultLabels = []string{"plastic", "paper", "glass", "metal", "electronics", "compost"}

// Addr returns the listen address of the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./data"
	}

	if c.Detection.EngineURL == "" {
		c.Detection.EngineURL = "http://localhost:8081"
	}
	if c.Detection.EngineTimeout == 0 {
		c.Detection.EngineTimeout = 10 * time.Second
	}
	if c.Detection.ConfidenceThreshold == 0 {
		c.Detection.ConfidenceThreshold = 0.7
	}
	if c.Detection.RawConfidence == 0 {
		c.Detection.RawConfidence = 0.25
	}
	if c.Detection.IoUThreshold == 0 {
		c.Detection.IoUThreshold = 0.45
	}
	if c.Detection.MaxDetections == 0 {
		c.Detection.MaxDetections = 100
	}
	if c.Detection.InputSize == 0 {
		c.Detection.InputSize = 640
	}
	if c.Detection.StreamInputSize == 0 {
		c.Detection.StreamInputSize = 320
	}
	if len(c.Detection.Strides) == 0 {
		c.Detection.Strides = []int{8, 16, 32}
	}
	if len(c.Detection.Labels) == 0 {
		c.Detection.Labels = append([]string(nil), DefaultLabels...)
	}
	if c.Detection.PointsPerRecyclable == 0 {
		c.Detection.PointsPerRecyclable = 10
	}

	if c.Info.Budget == 0 {
		c.Info.Budget = 20 * time.Second
	}
	if c.Info.Cache.Size == 0 {
		c.Info.Cache.Size = 256
	}
	if c.Info.Cache.TTL == 0 {
		c.Info.Cache.TTL = time.Hour
	}
	if c.Info.Generative.Model == "" {
		c.Info.Generative.Model = "llama3"
	}
	if c.Info.Generative.MaxTokens == 0 {
		c.Info.Generative.MaxTokens = 512
	}
	if c.Info.Generative.Temperature == 0 {
		c.Info.Generative.Temperature = 0.7
	}
	if c.Info.Generative.Timeout == 0 {
		c.Info.Generative.Timeout = 4 * time.Second
	}
	if c.Info.Generative.MinInterval == 0 {
		c.Info.Generative.MinInterval = time.Second
	}
	if c.Info.Generative.MaxAttempts == 0 {
		c.Info.Generative.MaxAttempts = 3
	}
	if c.Info.Generative.InitialBackoff == 0 {
		c.Info.Generative.InitialBackoff = 2 * time.Second
	}
	if c.Info.Generative.MaxBackoff == 0 {
		c.Info.Generative.MaxBackoff = 10 * time.Second
	}
	if c.Info.External.Timeout == 0 {
		c.Info.External.Timeout = 10 * time.Second
	}

	if c.Ledger.MaxAttempts == 0 {
		c.Ledger.MaxAttempts = 3
	}
	if c.Ledger.InitialBackoff == 0 {
		c.Ledger.InitialBackoff = 100 * time.Millisecond
	}
	if c.Ledger.MaxBackoff == 0 {
		c.Ledger.MaxBackoff = 2 * time.Second
	}
	if c.Ledger.CommitReserve == 0 {
		c.Ledger.CommitReserve = 3 * time.Second
	}
	if c.Ledger.SweepInterval == 0 {
		c.Ledger.SweepInterval = 30 * time.Second
	}
	if c.Ledger.SweepBatch == 0 {
		c.Ledger.SweepBatch = 100
	}
	if c.Ledger.HistoryWindow == 0 {
		c.Ledger.HistoryWindow = 30 * 24 * time.Hour
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.Server.DataDir, "ecovision.db")
	}

	if c.Auth.CacheTTL == 0 {
		c.Auth.CacheTTL = 5 * time.Minute
	}
	if c.Auth.CacheSize == 0 {
		c.Auth.CacheSize = 1024
	}
}
