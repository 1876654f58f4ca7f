package tools

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/CivicPulse/civicpulse/internal/cache"
	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

// Observer receives one observation per executed call
type Observer interface {
	ObserveTool(name, outcome string, d time.Duration)
}

// ExecutorConfig controls caching and per-call deadlines
type ExecutorConfig struct {
	TTL     time.Duration
	Timeout time.Duration
}

// Executor runs tool calls against a registry. It never returns a Go error:
// every failure is folded into the Result so the model can react to it.
type Executor struct {
	registry *Registry
	cache    cache.Cache
	cfg      ExecutorConfig
	group    singleflight.Group
	observer Observer
	log      *logger.Logger
}

type cacheEntry struct {
	Payload    json.RawMessage   `json:"payload"`
	Navigation *types.Navigation `json:"navigation,omitempty"`
}

// NewExecutor creates an executor; c may be nil to disable caching
func NewExecutor(reg *Registry, c cache.Cache, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Executor{
		registry: reg,
		cache:    c,
		cfg:      cfg,
		log:      logger.Component("tools"),
	}
}

// SetObserver attaches a metrics observer
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

// Tools returns the catalog offered to the model
func (e *Executor) Tools() []*Tool {
	return e.registry.List()
}

// Execute runs a single call
func (e *Executor) Execute(ctx context.Context, call types.ToolCall) Result {
	start := time.Now()
	res := e.execute(ctx, call)

	outcome := "ok"
	switch {
	case res.Err != nil:
		outcome = res.Err.Code
	case res.Cached:
		outcome = "cached"
	}
	if e.observer != nil {
		e.observer.ObserveTool(call.Name, outcome, time.Since(start))
	}
	e.log.Debug("tool %s (%s) -> %s in %s", call.Name, call.ID, outcome, time.Since(start).Round(time.Millisecond))
	return res
}

func (e *Executor) execute(ctx context.Context, call types.ToolCall) Result {
	tool := e.registry.Get(call.Name)
	if tool == nil {
		return errorResult(call, CodeUnknownTool, fmt.Sprintf("no tool named %q", call.Name))
	}

	params, err := decodeParams(call.Input)
	if err != nil {
		return errorResult(call, CodeInvalidInput, err.Error())
	}
	if err := tool.validate(params); err != nil {
		var te *ToolError
		errors.As(err, &te)
		return Result{CallID: call.ID, Name: call.Name, Err: te}
	}

	key := CacheKey(call.Name, localeFrom(ctx), params)
	if e.cache != nil {
		if raw, ok := e.cache.Get(key); ok {
			var entry cacheEntry
			if err := json.Unmarshal(raw, &entry); err == nil {
				return Result{
					CallID:     call.ID,
					Name:       call.Name,
					Payload:    entry.Payload,
					Navigation: entry.Navigation,
					Cached:     true,
				}
			}
		}
	}

	// The flight is shared by every caller on key, so no single caller's
	// cancellation may end it. run still applies the per-call timeout.
	ch := e.group.DoChan(key, func() (any, error) {
		entry, terr := e.run(context.WithoutCancel(ctx), tool, params)
		if terr != nil {
			return nil, terr
		}
		if e.cache != nil && e.cfg.TTL > 0 {
			if raw, err := json.Marshal(entry); err == nil {
				if err := e.cache.Set(key, raw, e.cfg.TTL); err != nil {
					e.log.Warn("failed to cache %s result: %v", tool.Name, err)
				}
			}
		}
		return entry, nil
	})

	var shared singleflight.Result
	select {
	case shared = <-ch:
	case <-ctx.Done():
		return errorResult(call, CodeBackendError, ctx.Err().Error())
	}
	if err := shared.Err; err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			te = &ToolError{Code: CodeInternalError, Message: err.Error()}
		}
		return Result{CallID: call.ID, Name: call.Name, Err: te}
	}

	entry := shared.Val.(*cacheEntry)
	return Result{
		CallID:     call.ID,
		Name:       call.Name,
		Payload:    entry.Payload,
		Navigation: entry.Navigation,
	}
}

func (e *Executor) run(ctx context.Context, tool *Tool, params Params) (entry *cacheEntry, terr *ToolError) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool %s panicked: %v", tool.Name, r)
			entry = nil
			terr = &ToolError{Code: CodeInternalError, Message: "tool failed unexpectedly"}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := tool.Handler(ctx, params)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return nil, te
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ToolError{Code: CodeBackendError, Message: "data service timed out"}
		}
		return nil, &ToolError{Code: CodeBackendError, Message: err.Error()}
	}
	if out == nil {
		out = &Output{}
	}

	payload, err := json.Marshal(out.Data)
	if err != nil {
		return nil, &ToolError{Code: CodeInternalError, Message: "failed to encode result"}
	}
	return &cacheEntry{Payload: payload, Navigation: out.Navigation}, nil
}

func decodeParams(input json.RawMessage) (Params, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return Params{}, nil
	}
	var params Params
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %v", err)
	}
	if params == nil {
		params = Params{}
	}
	return params, nil
}

// CacheKey derives a stable key from the tool name, the locale its navigation
// links are built for, and its canonical input. encoding/json writes map keys
// in sorted order, so equal inputs hash equally.
func CacheKey(name, locale string, params Params) string {
	canonical, _ := json.Marshal(map[string]any(params))
	sum := sha256.Sum256(append([]byte(name+"\x00"+locale+"\x00"), canonical...))
	return hex.EncodeToString(sum[:])
}
