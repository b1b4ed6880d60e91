package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler answers liveness and readiness probes. Readiness pings
// the control database and redis; tenant vector stores are dialed
// lazily and deliberately stay out of readiness.
type HealthHandler struct {
	checks map[string]func(context.Context) error
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	checks := make(map[string]func(context.Context) error)
	if db != nil {
		checks["database"] = db.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(h.checks))
	status := http.StatusOK

	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			results[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			results[name] = "ok"
		}
	}

	body := map[string]interface{}{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
