package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultAPIURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel  = "gemini-1.5-flash"
)

// Config represents the application configuration
type Config struct {
	Upstream      UpstreamConfig      `json:"upstream"`
	Server        ServerConfig        `json:"server"`
	Validation    ValidationConfig    `json:"validation"`
	ContentPolicy ContentPolicyConfig `json:"content_policy"`
	CatalogFile   string              `json:"catalog_file,omitempty"`
	Routes        []RouteConfig       `json:"routes"`
	LogLevel      string              `json:"log_level"`
	LogFormat     string              `json:"log_format"`
	LogFile       string              `json:"log_file,omitempty"`
}

// UpstreamConfig holds the completion provider settings
type UpstreamConfig struct {
	Provider          string `json:"provider"` // "openai" | "google"
	APIKey            string `json:"api_key"`
	APIURL            string `json:"api_url"`
	Model             string `json:"model"`
	APITimeoutSeconds int    `json:"api_timeout_seconds"`
}

// ServerConfig holds the inbound HTTP settings
type ServerConfig struct {
	Addr                  string   `json:"addr"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"`
	StreamFraming         string   `json:"stream_framing"` // "raw" | "sse"
	AuthTokens            []string `json:"auth_tokens,omitempty"`
}

// ValidationConfig holds inbound payload policy
type ValidationConfig struct {
	AllowEmptyContent bool `json:"allow_empty_content"`
}

// ContentPolicyConfig holds the completeness check for batched output
type ContentPolicyConfig struct {
	MinLength       int      `json:"min_length"`
	RequiredMarkers []string `json:"required_markers,omitempty"`
}

// RouteConfig describes one generation endpoint. Routes differ only in
// sampling parameters, streaming mode and prompt variant.
type RouteConfig struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Streaming     bool    `json:"streaming"`
	PromptVariant string  `json:"prompt_variant"`
	RequireAuth   bool    `json:"require_auth,omitempty"`
}

// Default returns a configuration with default values
func Default() Config {
	return Config{
		Upstream: UpstreamConfig{
			Provider:          "openai",
			APIKey:            "",
			APIURL:            DefaultAPIURL,
			Model:             DefaultModel,
			APITimeoutSeconds: 60,
		},
		Server: ServerConfig{
			Addr:                  ":8080",
			RequestTimeoutSeconds: 60,
			StreamFraming:         "raw",
		},
		ContentPolicy: ContentPolicyConfig{
			MinLength:       20,
			RequiredMarkers: []string{"export default"},
		},
		Routes: []RouteConfig{
			{
				Name:          "generate",
				Path:          "/api/generate",
				Temperature:   0.7,
				Streaming:     true,
				PromptVariant: "react",
			},
			{
				Name:          "generate-nextjs",
				Path:          "/api/generate-nextjs",
				Temperature:   0.2,
				Streaming:     true,
				PromptVariant: "nextjs",
				RequireAuth:   true,
			},
			{
				Name:          "generate-batch",
				Path:          "/api/generate/batch",
				Temperature:   0.7,
				MaxTokens:     4096,
				Streaming:     false,
				PromptVariant: "react",
			},
		},
		LogLevel:  "info",
		LogFormat: "auto",
	}
}

// Load loads configuration from the specified path
// If the file doesn't exist, creates one with default values
// Environment variables override file values
func Load(configPath string) (Config, error) {
	// Ensure directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return Config{}, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		cfg := Default()
		if err := Save(configPath, cfg); err != nil {
			return Config{}, fmt.Errorf("failed to create default config: %w", err)
		}
		return ApplyEnv(cfg, os.Getenv), nil
	}

	// Start from defaults so omitted sections keep sensible values
	cfg := Default()
	cfg.Routes = nil
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = Default().Routes
	}

	return ApplyEnv(cfg, os.Getenv), nil
}

// ApplyEnv applies environment variable overrides. getenv is os.Getenv outside tests.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if apiKey := firstNonEmpty(getenv("UIGEN_API_KEY"), getenv("GOOGLE_GENERATIVE_AI_API_KEY")); apiKey != "" {
		cfg.Upstream.APIKey = apiKey
	}
	if apiURL := getenv("UIGEN_API_URL"); apiURL != "" {
		cfg.Upstream.APIURL = apiURL
	}
	if provider := getenv("UIGEN_PROVIDER"); provider != "" {
		cfg.Upstream.Provider = strings.ToLower(provider)
	}
	if model := getenv("UIGEN_MODEL"); model != "" {
		cfg.Upstream.Model = model
	}
	if addr := getenv("UIGEN_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if timeoutStr := getenv("UIGEN_REQUEST_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil && timeout > 0 {
			cfg.Server.RequestTimeoutSeconds = timeout
		}
	}
	if logLevel := getenv("UIGEN_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = strings.ToLower(logLevel)
	}
	return cfg
}

// Save saves the configuration to the specified path
func Save(configPath string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	switch c.Upstream.Provider {
	case "openai", "google":
	default:
		return fmt.Errorf("unsupported upstream provider: %s", c.Upstream.Provider)
	}

	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return fmt.Errorf("upstream api_key is required (set UIGEN_API_KEY or add to config file)")
	}

	if strings.TrimSpace(c.Upstream.Model) == "" {
		return fmt.Errorf("upstream model is required")
	}

	if c.Upstream.APITimeoutSeconds <= 0 {
		return fmt.Errorf("api_timeout_seconds must be positive, got: %d", c.Upstream.APITimeoutSeconds)
	}

	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive, got: %d", c.Server.RequestTimeoutSeconds)
	}

	switch c.Server.StreamFraming {
	case "raw", "sse":
	default:
		return fmt.Errorf("stream_framing must be \"raw\" or \"sse\", got: %q", c.Server.StreamFraming)
	}

	if c.ContentPolicy.MinLength < 0 {
		return fmt.Errorf("content_policy.min_length must not be negative, got: %d", c.ContentPolicy.MinLength)
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}

	paths := make(map[string]string, len(c.Routes))
	for _, r := range c.Routes {
		if err := r.Validate(); err != nil {
			return err
		}
		if other, dup := paths[r.Path]; dup {
			return fmt.Errorf("routes %q and %q share path %s", other, r.Name, r.Path)
		}
		paths[r.Path] = r.Name
	}

	return nil
}

// Validate checks a single route.
func (r RouteConfig) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("route name is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route %q: path must start with '/', got: %q", r.Name, r.Path)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("route %q: temperature must be between 0 and 2, got: %f", r.Name, r.Temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("route %q: max_tokens must not be negative, got: %d", r.Name, r.MaxTokens)
	}
	if strings.TrimSpace(r.PromptVariant) == "" {
		return fmt.Errorf("route %q: prompt_variant is required", r.Name)
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".uigen/config.json"
	}
	return filepath.Join(homeDir, ".uigen", "config.json")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
