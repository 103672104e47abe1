package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/inkwelldata/docpipe/internal/admin"
	"github.com/inkwelldata/docpipe/internal/api/handlers"
	"github.com/inkwelldata/docpipe/internal/api/middleware"
	"github.com/inkwelldata/docpipe/internal/auth"
	"github.com/inkwelldata/docpipe/internal/config"
	"github.com/inkwelldata/docpipe/internal/document"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/internal/store"
	"github.com/inkwelldata/docpipe/internal/webhookrecv"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	jwt   *auth.JWTMiddleware

	store    *store.Store
	blobs    storage.Storage
	nudger   queue.Nudger
	receiver *webhookrecv.Receiver
	logger   *slog.Logger
}

// Deps carries the pre-wired services the router exposes over HTTP.
type Deps struct {
	Store    *store.Store
	Blobs    storage.Storage
	Nudger   queue.Nudger
	Receiver *webhookrecv.Receiver
	Logger   *slog.Logger
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		mux:      chi.NewRouter(),
		db:       db,
		redis:    rdb,
		cfg:      cfg,
		jwt:      auth.NewJWTMiddleware(cfg.Auth.AdminJWTSecret),
		store:    deps.Store,
		blobs:    deps.Blobs,
		nudger:   deps.Nudger,
		receiver: deps.Receiver,
		logger:   logger,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	docSvc := document.NewService(rt.store, rt.blobs, rt.nudger, rt.logger)
	adminSvc := admin.NewService(rt.store, rt.nudger, rt.logger)

	// Parse callbacks arrive from the parsing service, authenticated by the
	// per-job secret inside the body rather than a bearer token.
	cbH := handlers.NewCallbackHandler(rt.receiver)
	r.Post("/callbacks/parse/{jobID}", cbH.ParseCallback)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		docH := handlers.NewDocumentHandler(docSvc, rt.store)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
			r.Get("/{id}/status", docH.Status)
		})
		r.Get("/jobs/{jobID}/events", docH.Events)

		adminH := handlers.NewAdminHandler(adminSvc)
		r.Route("/admin", func(r chi.Router) {
			r.Use(rt.jwt.Authenticate)
			r.Post("/jobs/{jobID}/retry", adminH.RetryJob)
			r.Post("/jobs/retry-stuck", adminH.RetryStuck)
		})
	})

	return r
}
