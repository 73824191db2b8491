package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/metrics"
)

type statusResponse struct {
	Status        string  `json:"status"`
	State         State   `json:"state"`
	PID           int     `json:"pid"`
	Driver        string  `json:"driver,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	URL           string  `json:"url,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatusHandler serves /healthz and /metrics for the running daemon.
func (c *Controller) StatusHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(c.recoverMiddleware)
	r.Get("/healthz", c.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (c *Controller) healthz(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	owner := c.owner
	state := c.state
	c.mu.RUnlock()

	resp := statusResponse{
		Status:        "ok",
		State:         state,
		PID:           c.pid,
		UptimeSeconds: c.uptime().Seconds(),
	}
	if owner != nil {
		d := owner.Descriptor()
		resp.Driver = owner.Driver()
		resp.SessionID = d.SessionID
		resp.URL = d.URL
	}
	code := http.StatusOK
	if state != StateServing {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.writeJSON(w, code, resp)
}

func (c *Controller) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				c.logger.Error("Panic recovered", zap.Any("error", rec))
				c.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		c.logger.Error("Write JSON failed", zap.Error(err))
	}
}
