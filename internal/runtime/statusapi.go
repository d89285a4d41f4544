package runtime

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	configpkg "github.com/drblury/hubprovider/internal/runtime/config"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
)

// StatusHandler returns the status API routes: registered actions with their
// stats, loop counters and a health probe.
func (p *Provider) StatusHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(p.corsMiddleware)
	r.Get("/api/actions", p.handleGetActions)
	r.Get("/api/stats", p.handleGetStats)
	r.Get("/healthz", p.handleHealth)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (p *Provider) registerStatusAPI(port int) {
	if port == 0 {
		port = configpkg.DefaultStatusAPIPort
	}
	p.router(port).Mount("/", p.StatusHandler())
}

func (p *Provider) handleGetActions(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, p.Actions())
}

func (p *Provider) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	p.writeJSON(w, http.StatusOK, p.Stats())
}

// handleHealth reports 503 once the loop is stopping or stopped.
func (p *Provider) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := p.State()
	status := http.StatusOK
	if state == StateStopping || state == StateStopped {
		status = http.StatusServiceUnavailable
	}
	p.writeJSON(w, status, map[string]string{"state": state.String()})
}

func (p *Provider) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		p.Logger.Error("Failed to encode status response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		p.Logger.Debug("Failed to write status response", loggingpkg.LogFields{"error": err.Error()})
	}
}

func (p *Provider) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := p.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for a
// request origin, or "" when the origin is not allowed.
func (p *Provider) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range p.Conf.StatusAPICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
