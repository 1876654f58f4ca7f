package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/CivicPulse/civicpulse/internal/agent"
	"github.com/CivicPulse/civicpulse/internal/auth"
	"github.com/CivicPulse/civicpulse/internal/cache"
	"github.com/CivicPulse/civicpulse/internal/chat"
	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/credential"
	"github.com/CivicPulse/civicpulse/internal/graph"
	"github.com/CivicPulse/civicpulse/internal/metrics"
	"github.com/CivicPulse/civicpulse/internal/quota"
	"github.com/CivicPulse/civicpulse/internal/ratelimit"
	"github.com/CivicPulse/civicpulse/internal/store"
	"github.com/CivicPulse/civicpulse/internal/tools"
	"github.com/CivicPulse/civicpulse/internal/usage"
)

const memoryCacheEntries = 2048

// Services holds everything the HTTP layer talks to
type Services struct {
	Store    *store.Store
	Cache    cache.Cache
	Cipher   *credential.Cipher
	Auth     *auth.Authenticator
	Gate     *quota.Gate
	Executor *tools.Executor
	Chat     *chat.Service
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Collector
}

// Build opens the database and tool cache and wires the chat pipeline
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	cipher, err := credential.NewCipher(cfg.Crypto.MasterKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid crypto.masterKey: %w", err)
	}

	var c cache.Cache
	switch cfg.Tools.Cache.Backend {
	case "bolt":
		b, err := cache.OpenBolt(cfg.Tools.Cache.Path)
		if err != nil {
			st.Close()
			return nil, err
		}
		c = b
	default:
		c = cache.NewMemory(memoryCacheEntries)
	}

	m := metrics.NewCollector()
	if !cfg.Metrics.Enabled {
		m = nil
	}

	reg := tools.NewRegistry()
	gq := graph.New(cfg.Graph.Endpoint, cfg.Graph.APIKey, time.Duration(cfg.Graph.TimeoutSeconds)*time.Second)
	tools.RegisterCivic(reg, gq)
	exec := tools.NewExecutor(reg, c, tools.ExecutorConfig{
		TTL:     cfg.ToolCacheTTL(),
		Timeout: time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
	})
	if m != nil {
		exec.SetObserver(m)
	}

	resolver := credential.NewResolver(st, cipher, ProviderFactory(cfg.Agent), credential.Platform{
		Provider: cfg.Agent.Provider,
		APIKey:   cfg.Agent.APIKey,
	})
	gate := quota.NewGate(st, cfg.Quota)

	svc := chat.NewService(chat.Deps{
		Store:    st,
		Gate:     gate,
		Resolver: resolver,
		Executor: exec,
		Ledger:   usage.NewLedger(st, nil),
		Metrics:  m,
	}, cfg.Agent)

	return &Services{
		Store:    st,
		Cache:    c,
		Cipher:   cipher,
		Auth:     auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
		Gate:     gate,
		Executor: exec,
		Chat:     svc,
		Limiter:  ratelimit.New(cfg.RateLimit.PerMinute),
		Metrics:  m,
	}, nil
}

// ProviderFactory builds provider clients for resolved keys. The platform
// provider uses agent.model and agent.baseURL; other providers use their
// per-provider model and default endpoint.
func ProviderFactory(ac config.AgentConfig) credential.Factory {
	return func(ctx context.Context, provider, apiKey string) (agent.Provider, error) {
		opts := agent.Options{
			Model:     ac.Models.For(provider),
			MaxTokens: ac.MaxTokens,
			Timeout:   time.Duration(ac.TimeoutSeconds) * time.Second,
		}
		if provider == ac.Provider {
			if ac.Model != "" {
				opts.Model = ac.Model
			}
			opts.BaseURL = ac.BaseURL
		}
		return agent.NewProvider(ctx, provider, apiKey, opts)
	}
}

// Close releases the cache and the database
func (s *Services) Close() error {
	var firstErr error
	if s.Cache != nil {
		firstErr = s.Cache.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
