package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pagekeep/pagekeep/internal/api/handlers"
	"github.com/pagekeep/pagekeep/internal/api/middleware"
	"github.com/pagekeep/pagekeep/internal/audit"
	"github.com/pagekeep/pagekeep/internal/cache"
	"github.com/pagekeep/pagekeep/internal/config"
	"github.com/pagekeep/pagekeep/internal/document"
	"github.com/pagekeep/pagekeep/internal/ocr"
	"github.com/pagekeep/pagekeep/internal/pdf"
	"github.com/pagekeep/pagekeep/internal/queue"
	"github.com/pagekeep/pagekeep/internal/recognize"
	"github.com/pagekeep/pagekeep/internal/storage"
	"github.com/pagekeep/pagekeep/internal/textstore"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	jwt   *middleware.JWT
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		jwt:   middleware.NewJWT(cfg.Auth.JWTSecret),
	}
}

func (rt *Router) Setup() (http.Handler, error) {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))

	rl := middleware.NewRateLimiter(float64(rt.cfg.Server.RateLimitRPS), rt.cfg.Server.RateLimitBurst)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	files, err := storage.NewStore(rt.cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	queueClient := queue.NewClient(rt.cfg.Redis)
	docSvc := document.NewService(rt.db, files, queueClient)
	texts := textstore.New(rt.db)
	auditSvc := audit.NewService(rt.db)
	searchCache := cache.New(rt.redis)

	gateway := recognize.NewGateway(rt.cfg.OCR)
	orch := ocr.NewOrchestrator(
		ocr.OpenerFunc(func(path string) (ocr.Document, error) {
			handle, err := pdf.Open(path)
			if err != nil {
				return nil, err
			}
			return handle, nil
		}),
		gateway,
		texts,
		docSvc,
		ocr.WithLanguages(rt.cfg.OCR.Languages),
		ocr.WithRunRecorder(func(ctx context.Context, sum ocr.RunSummary) error {
			return auditSvc.RecordRun(ctx, audit.RunRecord{
				DocumentID:  sum.DocumentID,
				Kind:        sum.Kind,
				PagesTotal:  sum.PagesTotal,
				PagesFailed: sum.PagesFailed,
				Error:       sum.Error,
				StartedAt:   sum.StartedAt,
			})
		}),
	)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		// Document routes
		docH := handlers.NewDocumentHandler(docSvc, searchCache)
		ocrH := handlers.NewOCRHandler(orch, docSvc)
		searchH := handlers.NewSearchHandler(texts, searchCache,
			time.Duration(rt.cfg.Search.CacheTTLSeconds)*time.Second)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
			r.Delete("/{id}", docH.Delete)
			r.Get("/{id}/status", docH.Status)
			r.Get("/{id}/search", searchH.WithinDocument)

			r.Route("/{id}/ocr", func(r chi.Router) {
				r.Get("/", ocrH.Status)
				r.Post("/", ocrH.Start)
				r.Delete("/", ocrH.Cancel)
				r.Post("/retry", ocrH.Retry)
				r.Delete("/error", ocrH.ClearError)
			})
		})

		// Search routes
		r.Get("/search", searchH.Global)

		// Admin routes
		adminH := handlers.NewAdminHandler(auditSvc)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/runs", adminH.Runs)
		})
	})

	return r, nil
}
