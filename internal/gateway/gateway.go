package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/CivicPulse/civicpulse/internal/auth"
	"github.com/CivicPulse/civicpulse/internal/chat"
	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/quota"
	"github.com/CivicPulse/civicpulse/internal/stream"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

const (
	shutdownTimeout     = 30 * time.Second
	janitorInterval     = time.Minute
	maxBodyBytes        = 64 << 10
	maxCustomPrompt     = 2000
	defaultMessageLimit = 100
)

type Gateway struct {
	cfg            *config.Config
	svc            *Services
	version        string
	mux            *http.ServeMux
	server         *http.Server
	log            *logger.Logger
	startTime      time.Time
	activeRequests sync.WaitGroup // tracks in-flight chat turns
	shutdownCh     chan struct{}  // closed once shutdown starts
	shutdownOnce   sync.Once

	configPath string
	reloadMu   sync.Mutex
	applied    *config.Config // last config applied at runtime
}

func New(cfg *config.Config, svc *Services, version string) *Gateway {
	gw := &Gateway{
		cfg:        cfg,
		svc:        svc,
		version:    version,
		mux:        http.NewServeMux(),
		log:        logger.Component("gateway"),
		startTime:  time.Now(),
		shutdownCh: make(chan struct{}),
		applied:    cfg,
	}
	gw.setupRoutes()
	return gw
}

func (gw *Gateway) setupRoutes() {
	gw.mux.HandleFunc("GET /health", gw.handleHealth)
	if gw.cfg.Metrics.Enabled && gw.svc.Metrics != nil {
		path := gw.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		gw.mux.Handle("GET "+path, gw.svc.Metrics.Handler())
	}

	gw.mux.Handle("POST /api/chat", gw.authenticated(gw.handleChat))
	gw.mux.Handle("GET /api/conversations/{id}/messages", gw.authenticated(gw.handleMessages))
	gw.mux.Handle("GET /api/quota", gw.authenticated(gw.handleQuota))
	gw.mux.Handle("PUT /api/keys/{provider}", gw.authenticated(gw.handleSaveKey))
	gw.mux.Handle("DELETE /api/keys/{provider}", gw.authenticated(gw.handleDeleteKey))
	gw.mux.Handle("GET /api/preferences", gw.authenticated(gw.handleGetPreferences))
	gw.mux.Handle("PUT /api/preferences", gw.authenticated(gw.handleSavePreferences))
}

// Handler returns the full middleware chain
func (gw *Gateway) Handler() http.Handler {
	return gw.withRecovery(gw.withCORS(gw.mux))
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully
func (gw *Gateway) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := fmt.Sprintf("%s:%d", gw.cfg.Server.Bind, gw.cfg.Server.Port)
	gw.server = &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go gw.janitor(ctx)
	gw.startWatcher(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		gw.Shutdown()
	}()

	gw.log.Info("listening on %s (provider %s)", addr, gw.cfg.Agent.Provider)
	if err := gw.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown refuses new turns, waits for active ones and closes the server
func (gw *Gateway) Shutdown() {
	gw.shutdownOnce.Do(func() {
		gw.log.Info("shutting down")
		close(gw.shutdownCh)

		gw.log.Info("waiting for active turns to complete")
		done := make(chan struct{})
		go func() {
			gw.activeRequests.Wait()
			close(done)
		}()

		select {
		case <-done:
			gw.log.Info("all active turns completed")
		case <-time.After(shutdownTimeout):
			gw.log.Warn("timeout waiting for active turns, forcing shutdown")
		}

		if gw.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := gw.server.Shutdown(ctx); err != nil {
				gw.server.Close()
			}
		}
		if err := gw.svc.Close(); err != nil {
			gw.log.Warn("error closing services: %v", err)
		}
		gw.log.Info("shutdown complete")
	})
}

// janitor prunes idle limiter windows and expired cache entries
func (gw *Gateway) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	type pruner interface{ Prune() (int, error) }
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gw.svc.Limiter.Prune()
			if p, ok := gw.svc.Cache.(pruner); ok {
				if n, err := p.Prune(); err != nil {
					gw.log.Warn("cache prune failed: %v", err)
				} else if n > 0 {
					gw.log.Debug("pruned %d cached tool results", n)
				}
			}
		}
	}
}

func (gw *Gateway) shuttingDown() bool {
	select {
	case <-gw.shutdownCh:
		return true
	default:
		return false
	}
}

// handleChat runs one turn. Errors before the first frame are JSON responses;
// after that they travel inside the event stream.
func (gw *Gateway) handleChat(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	gw.activeRequests.Add(1)
	defer gw.activeRequests.Done()

	if gw.shuttingDown() {
		writeJSONError(w, http.StatusServiceUnavailable, "Service is shutting down. Please try again in a moment.")
		return
	}

	if ok, retry := gw.svc.Limiter.Allow(id.UserID); !ok {
		gw.log.Info("rate limited: %s", id.UserID)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.")
		return
	}

	var req chat.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.UserID = id.UserID

	turn, err := gw.svc.Chat.Prepare(r.Context(), req)
	if err != nil {
		gw.writeError(w, err)
		return
	}

	sink := stream.NewSSEWriter(r.Context(), w)
	if err := turn.Run(r.Context(), sink); err != nil {
		gw.log.Warn("turn ended with error for %s: %v", id.UserID, err)
	}
}

func (gw *Gateway) handleMessages(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	convID := r.PathValue("id")
	conv, err := gw.svc.Store.GetConversation(r.Context(), convID)
	if err != nil {
		gw.writeError(w, err)
		return
	}
	if conv == nil || conv.UserID != id.UserID {
		gw.writeError(w, chat.ErrConversationNotFound)
		return
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := gw.svc.Store.ListMessages(r.Context(), convID, limit)
	if err != nil {
		gw.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (gw *Gateway) handleQuota(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	d, err := gw.svc.Gate.Check(r.Context(), id.UserID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, d)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type saveKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (gw *Gateway) handleSaveKey(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	provider := r.PathValue("provider")
	if !slices.Contains(config.SupportedProviders, provider) {
		writeJSONError(w, http.StatusBadRequest, "Unsupported provider: "+provider)
		return
	}

	var req saveKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	sealed, err := gw.svc.Cipher.Seal(id.UserID, provider, key)
	if err != nil {
		gw.writeError(w, err)
		return
	}
	if err := gw.svc.Store.SaveAPIKey(r.Context(), sealed); err != nil {
		gw.writeError(w, err)
		return
	}
	gw.log.Info("saved %s key for %s", provider, id.UserID)
	writeJSON(w, http.StatusOK, sealed)
}

func (gw *Gateway) handleDeleteKey(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	provider := r.PathValue("provider")
	found, err := gw.svc.Store.DeactivateAPIKey(r.Context(), id.UserID, provider)
	if err != nil {
		gw.writeError(w, err)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "No saved key for "+provider)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (gw *Gateway) handleGetPreferences(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	p, err := gw.svc.Store.GetPreferences(r.Context(), id.UserID)
	if err != nil {
		gw.writeError(w, err)
		return
	}
	if p == nil {
		p = &types.Preferences{UserID: id.UserID}
	}
	writeJSON(w, http.StatusOK, p)
}

func (gw *Gateway) handleSavePreferences(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	var p types.Preferences
	if err := decodeJSON(w, r, &p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if utf8.RuneCountInString(p.CustomPrompt) > maxCustomPrompt {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("custom_prompt is limited to %d characters", maxCustomPrompt))
		return
	}
	p.UserID = id.UserID
	if err := gw.svc.Store.SavePreferences(r.Context(), &p); err != nil {
		gw.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"ok":       true,
		"version":  gw.version,
		"provider": gw.cfg.Agent.Provider,
		"uptime":   time.Since(gw.startTime).Round(time.Second).String(),
	}
	code := http.StatusOK
	if err := gw.svc.Store.Ping(r.Context()); err != nil {
		status["ok"] = false
		status["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

type errorBody struct {
	Error           string `json:"error"`
	Reason          string `json:"reason,omitempty"`
	RequiresPayment bool   `json:"requires_payment,omitempty"`
}

// writeError maps a pre-stream error to its status and public message
func (gw *Gateway) writeError(w http.ResponseWriter, err error) {
	status := chat.HTTPStatus(err)
	body := errorBody{Error: chat.PublicMessage(err)}

	var exceeded *chat.QuotaExceededError
	var unavail *chat.QuotaUnavailableError
	switch {
	case errors.As(err, &exceeded):
		body.Reason = exceeded.Reason
		body.RequiresPayment = exceeded.RequiresPayment
	case errors.As(err, &unavail):
		body.Reason = quota.ReasonUnavailable
	}

	if status >= http.StatusInternalServerError {
		gw.log.Error("request failed: %v", err)
	}
	writeJSON(w, status, body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
