package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SupportedProviders lists model providers in BYOK preference order
var SupportedProviders = []string{"anthropic", "openai", "gemini"}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	Graph     GraphConfig     `yaml:"graph"`
	Tools     ToolsConfig     `yaml:"tools"`
	Quota     QuotaConfig     `yaml:"quota"`
	Database  DatabaseConfig  `yaml:"database"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Bind           string   `yaml:"bind"`
	AllowedOrigins []string `yaml:"allowedOrigins"` // CORS; empty = same-origin only
}

// AuthConfig verifies bearer tokens minted by the identity provider
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`   // optional
	Audience  string `yaml:"audience"` // optional
}

type AgentConfig struct {
	Provider           string         `yaml:"provider"` // platform provider: anthropic, openai, gemini
	APIKey             string         `yaml:"apiKey"`   // platform key; empty = BYOK only
	Model              string         `yaml:"model"`
	BaseURL            string         `yaml:"baseURL"` // override provider endpoint (proxies, tests)
	MaxTokens          int            `yaml:"maxTokens"`
	MaxRounds          int            `yaml:"maxRounds"`
	MaxHistoryMessages int            `yaml:"maxHistoryMessages"`
	MaxContextTokens   int            `yaml:"maxContextTokens"`
	TimeoutSeconds     int            `yaml:"timeoutSeconds"`
	Models             ProviderModels `yaml:"models"` // model used for each provider's BYOK keys
}

type ProviderModels struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Gemini    string `yaml:"gemini"`
}

// For returns the configured model for a provider
func (m ProviderModels) For(provider string) string {
	switch provider {
	case "anthropic":
		return m.Anthropic
	case "openai":
		return m.OpenAI
	case "gemini":
		return m.Gemini
	}
	return ""
}

type GraphConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"apiKey"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type ToolsConfig struct {
	CacheTTLSeconds int         `yaml:"cacheTTLSeconds"`
	TimeoutSeconds  int         `yaml:"timeoutSeconds"`
	Cache           CacheConfig `yaml:"cache"`
}

type CacheConfig struct {
	Backend string `yaml:"backend"` // memory or bolt
	Path    string `yaml:"path"`    // bolt file
}

type QuotaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	FreeQueries    int      `yaml:"freeQueries"`
	Period         string   `yaml:"period"`   // day or month
	FailOpen       bool     `yaml:"failOpen"` // allow when the ledger cannot be read
	UnlimitedUsers []string `yaml:"unlimitedUsers"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	DSN    string `yaml:"dsn"`
}

type CryptoConfig struct {
	MasterKey string `yaml:"masterKey"` // 64 hex chars, or any secret stretched with HKDF
}

type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"` // 0 = disabled
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Bind: "0.0.0.0",
		},
		Auth: AuthConfig{
			Audience: "authenticated",
		},
		Agent: AgentConfig{
			Provider:           "anthropic",
			Model:              "claude-sonnet-4-20250514",
			MaxTokens:          4096,
			MaxRounds:          8,
			MaxHistoryMessages: 20,
			MaxContextTokens:   60000,
			TimeoutSeconds:     120,
			Models: ProviderModels{
				Anthropic: "claude-sonnet-4-20250514",
				OpenAI:    "gpt-4o",
				Gemini:    "gemini-2.5-flash",
			},
		},
		Graph: GraphConfig{
			TimeoutSeconds: 20,
		},
		Tools: ToolsConfig{
			CacheTTLSeconds: 300,
			TimeoutSeconds:  20,
			Cache:           CacheConfig{Backend: "memory"},
		},
		Quota: QuotaConfig{
			Enabled:     true,
			FreeQueries: 10,
			Period:      "day",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    filepath.Join(configDir(), "civicpulse.db"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".civicpulse")
}

// DefaultPath returns ~/.civicpulse/config.yaml
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Load reads the YAML config at path (DefaultPath when empty), then a .env
// file in the working directory, then environment overrides. A missing file
// is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config not found: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CIVICPULSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := getenv("CIVICPULSE_PROVIDER"); v != "" {
		c.Agent.Provider = v
	}
	if v := getenv("CIVICPULSE_MODEL"); v != "" {
		c.Agent.Model = v
	}
	if c.Agent.APIKey == "" {
		switch c.Agent.Provider {
		case "anthropic":
			c.Agent.APIKey = getenv("ANTHROPIC_API_KEY")
		case "openai":
			c.Agent.APIKey = getenv("OPENAI_API_KEY")
		case "gemini":
			c.Agent.APIKey = getenv("GEMINI_API_KEY")
		}
	}
	if v := getenv("CIVICPULSE_GRAPH_ENDPOINT"); v != "" {
		c.Graph.Endpoint = v
	}
	if v := getenv("CIVICPULSE_GRAPH_API_KEY"); v != "" {
		c.Graph.APIKey = v
	}
	if v := getenv("CIVICPULSE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("CIVICPULSE_MASTER_KEY"); v != "" {
		c.Crypto.MasterKey = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.Driver = "postgres"
		}
	}
	if v := getenv("CIVICPULSE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// ToolCacheTTL returns the tool result cache lifetime
func (c *Config) ToolCacheTTL() time.Duration {
	return time.Duration(c.Tools.CacheTTLSeconds) * time.Second
}

// ValidationResult holds the result of config validation
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// Validate checks the configuration for required fields and common issues
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	if c.Auth.JWTSecret == "" {
		result.Errors = append(result.Errors, "Bearer token verification requires auth.jwtSecret")
	}
	if c.Crypto.MasterKey == "" {
		result.Errors = append(result.Errors, "Stored API keys require crypto.masterKey")
	}
	if c.Graph.Endpoint == "" {
		result.Errors = append(result.Errors, "Tools require graph.endpoint")
	}

	if !slices.Contains(SupportedProviders, c.Agent.Provider) {
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown provider '%s', supported: %s", c.Agent.Provider, strings.Join(SupportedProviders, ", ")))
	}
	if c.Agent.APIKey == "" {
		result.Warnings = append(result.Warnings, "No platform API key set: only users with a saved key can chat")
	}
	if c.Agent.MaxRounds < 1 {
		result.Errors = append(result.Errors, "agent.maxRounds must be at least 1")
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("Unsupported database driver '%s', supported: sqlite3, postgres", c.Database.Driver))
	}

	switch c.Quota.Period {
	case "day", "month":
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown quota period '%s', supported: day, month", c.Quota.Period))
	}
	if c.Quota.FailOpen {
		result.Warnings = append(result.Warnings, "quota.failOpen is set: queries are allowed when usage cannot be verified")
	}

	switch c.Tools.Cache.Backend {
	case "memory", "":
	case "bolt":
		if c.Tools.Cache.Path == "" {
			result.Errors = append(result.Errors, "Bolt tool cache requires tools.cache.path")
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("Unknown tool cache backend '%s', supported: memory, bolt", c.Tools.Cache.Backend))
	}

	if c.RateLimit.PerMinute > 100 {
		result.Warnings = append(result.Warnings, "Rate limit > 100 req/min - consider lower limit")
	}

	return result
}

// Save writes cfg as YAML to path (DefaultPath when empty)
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}
