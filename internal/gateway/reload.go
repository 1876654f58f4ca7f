package gateway

import (
	"context"
	"reflect"
	"strings"

	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/watcher"
)

// WatchConfig makes Start watch path and apply edits to the settings that can
// change at runtime: log level, quota limits and the per-minute rate limit.
func (gw *Gateway) WatchConfig(path string) {
	gw.configPath = path
}

func (gw *Gateway) startWatcher(ctx context.Context) {
	if gw.configPath == "" {
		return
	}
	w := watcher.NewConfigWatcher(gw.configPath, watcher.DefaultDebounce, gw.reload)
	if err := w.Start(ctx); err != nil {
		gw.log.Warn("config changes will need a restart, cannot watch %s: %v", gw.configPath, err)
		return
	}
	gw.log.Info("watching %s for config changes", gw.configPath)
}

// reload reads the config file again and applies what it can. An invalid
// file is logged and ignored so the running settings stay in force.
func (gw *Gateway) reload() {
	next, err := config.Load(gw.configPath)
	if err != nil {
		gw.log.Error("config reload failed: %v", err)
		return
	}
	if result := next.Validate(); !result.IsValid() {
		gw.log.Error("config reload rejected: %s", strings.Join(result.Errors, "; "))
		return
	}
	gw.applyConfig(next)
}

func (gw *Gateway) applyConfig(next *config.Config) {
	gw.reloadMu.Lock()
	defer gw.reloadMu.Unlock()

	logger.SetLevel(logger.ParseLevel(next.Log.Level))
	gw.svc.Gate.Reconfigure(next.Quota)
	gw.svc.Limiter.SetLimit(next.RateLimit.PerMinute)

	if restart := restartOnly(gw.applied, next); len(restart) > 0 {
		gw.log.Warn("config changes to %s take effect after a restart", strings.Join(restart, ", "))
	}
	gw.applied = next
	gw.log.Info("config reloaded (log %s, %d free queries per %s, %d req/min)",
		next.Log.Level, next.Quota.FreeQueries, next.Quota.Period, next.RateLimit.PerMinute)
}

// restartOnly names the changed sections that are fixed at startup
func restartOnly(cur, next *config.Config) []string {
	var changed []string
	for _, s := range []struct {
		name      string
		cur, next any
	}{
		{"server", cur.Server, next.Server},
		{"auth", cur.Auth, next.Auth},
		{"agent", cur.Agent, next.Agent},
		{"graph", cur.Graph, next.Graph},
		{"tools", cur.Tools, next.Tools},
		{"database", cur.Database, next.Database},
		{"crypto", cur.Crypto, next.Crypto},
		{"metrics", cur.Metrics, next.Metrics},
	} {
		if !reflect.DeepEqual(s.cur, s.next) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
