package gateway

import (
	"net/http"
	"runtime/debug"
	"slices"

	"github.com/CivicPulse/civicpulse/internal/auth"
	"github.com/CivicPulse/civicpulse/internal/chat"
)

type identityHandler func(w http.ResponseWriter, r *http.Request, id *auth.Identity)

// authenticated verifies the bearer token and counts the request per route
func (gw *Gateway) authenticated(h identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() { gw.svc.Metrics.ObserveRequest(r.Pattern, rec.status) }()

		id, err := gw.svc.Auth.FromRequest(r)
		if err != nil {
			gw.log.Debug("rejected %s %s: %v", r.Method, r.URL.Path, err)
			gw.writeError(rec, chat.ErrUnauthenticated)
			return
		}
		h(rec, r.WithContext(auth.WithIdentity(r.Context(), id)), id)
	})
}

// withRecovery turns a handler panic into a 500 instead of a dropped connection
func (gw *Gateway) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				gw.log.Error("panic in %s %s: %v\n%s", r.Method, r.URL.Path, v, debug.Stack())
				writeJSONError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS allows the configured browser origins. No origins means
// same-origin only.
func (gw *Gateway) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && (slices.Contains(gw.cfg.Server.AllowedOrigins, origin) || slices.Contains(gw.cfg.Server.AllowedOrigins, "*"))
		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusForbidden)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the response status and keeps streaming working
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
