// Package api is the ops-facing HTTP surface: health probes, the
// inbound chat-event webhook and a read-only file listing.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/embedbot/embedbot/internal/chat"
	"github.com/embedbot/embedbot/internal/registry"
)

type Router struct {
	mux     *chi.Mux
	db      *pgxpool.Pool
	redis   *redis.Client
	chat    *chat.Router
	tenants *registry.Service
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, chatRouter *chat.Router, tenants *registry.Service) *Router {
	return &Router{
		mux:     chi.NewRouter(),
		db:      db,
		redis:   rdb,
		chat:    chatRouter,
		tenants: tenants,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	health := NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Post("/events", NewEventsHandler(rt.chat).Receive)
	r.Get("/tenants/{id}/files", NewFilesHandler(rt.tenants).List)

	return r
}
