package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = "secret"
	cfg.Crypto.MasterKey = "master"
	cfg.Graph.Endpoint = "http://localhost:4000/graphql"
	cfg.Agent.APIKey = "sk-ant-api-test"
	return cfg
}

func hasMessage(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	result := validConfig().Validate()
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_RequiredSecrets(t *testing.T) {
	cfg := Default()

	result := cfg.Validate()
	require.False(t, result.IsValid())
	assert.True(t, hasMessage(result.Errors, "jwtSecret"))
	assert.True(t, hasMessage(result.Errors, "masterKey"))
	assert.True(t, hasMessage(result.Errors, "graph.endpoint"))
}

func TestValidate_NoPlatformKeyIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.APIKey = ""

	result := cfg.Validate()
	assert.True(t, result.IsValid())
	assert.True(t, hasMessage(result.Warnings, "platform API key"))
}

func TestValidate_UnknownValues(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.Provider = "llama"
	cfg.Database.Driver = "mysql"
	cfg.Quota.Period = "week"
	cfg.Tools.Cache.Backend = "redis"

	result := cfg.Validate()
	assert.True(t, hasMessage(result.Errors, "Unknown provider 'llama'"))
	assert.True(t, hasMessage(result.Errors, "Unsupported database driver"))
	assert.True(t, hasMessage(result.Errors, "quota period"))
	assert.True(t, hasMessage(result.Errors, "tool cache backend"))
}

func TestValidate_BoltNeedsPath(t *testing.T) {
	cfg := validConfig()
	cfg.Tools.Cache.Backend = "bolt"

	result := cfg.Validate()
	assert.True(t, hasMessage(result.Errors, "tools.cache.path"))
}

func TestValidate_FailOpenWarns(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.FailOpen = true

	result := cfg.Validate()
	assert.True(t, result.IsValid())
	assert.True(t, hasMessage(result.Warnings, "failOpen"))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CIVICPULSE_PORT":           "9090",
		"CIVICPULSE_PROVIDER":       "openai",
		"OPENAI_API_KEY":            "sk-openai",
		"ANTHROPIC_API_KEY":         "sk-ant-ignored",
		"CIVICPULSE_GRAPH_ENDPOINT": "http://graph/graphql",
		"CIVICPULSE_JWT_SECRET":     "jwt",
		"DATABASE_URL":              "postgres://u:p@db/civic?sslmode=disable",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "sk-openai", cfg.Agent.APIKey)
	assert.Equal(t, "http://graph/graphql", cfg.Graph.Endpoint)
	assert.Equal(t, "jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestApplyEnv_KeepsExplicitKey(t *testing.T) {
	cfg := Default()
	cfg.Agent.APIKey = "from-yaml"
	cfg.ApplyEnv(func(k string) string {
		if k == "ANTHROPIC_API_KEY" {
			return "from-env"
		}
		return ""
	})
	assert.Equal(t, "from-yaml", cfg.Agent.APIKey)
}

func TestLoad_ExplicitMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := validConfig()
	cfg.Quota.FreeQueries = 3
	cfg.Tools.Cache = CacheConfig{Backend: "bolt", Path: "/tmp/tools.db"}

	written, err := Save(cfg, path)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Quota.FreeQueries)
	assert.Equal(t, "bolt", loaded.Tools.Cache.Backend)
	assert.Equal(t, cfg.Agent.Models, loaded.Agent.Models)
}

func TestProviderModelsFor(t *testing.T) {
	m := Default().Agent.Models
	assert.Equal(t, "gpt-4o", m.For("openai"))
	assert.Equal(t, "gemini-2.5-flash", m.For("gemini"))
	assert.Empty(t, m.For("unknown"))
}
