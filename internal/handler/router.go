package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"synxronusage/internal/auth"
)

type RouterConfig struct {
	Authority      *auth.Authority
	Usage          *UsageHandler
	RepoUsage      *RepoUsageHandler
	Content        *ContentHandler
	Metrics        http.Handler
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.UserHeader},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/usage", func(r chi.Router) {
			r.Get("/people/{user}", cfg.Usage.GetUserUsage)
			r.Group(func(r chi.Router) {
				r.Use(cfg.Authority.RequirePrivileged)
				r.Put("/people/{user}/quota", cfg.Usage.SetUserQuota)
				r.Post("/collapse", cfg.Usage.Collapse)
				r.Post("/bootstrap", cfg.Usage.Bootstrap)
			})
		})

		r.Route("/repo", func(r chi.Router) {
			r.Get("/usage", cfg.RepoUsage.GetUsage)
			r.Get("/usage/status", cfg.RepoUsage.GetStatus)
			r.Get("/restrictions", cfg.RepoUsage.GetRestrictions)
			r.Group(func(r chi.Router) {
				r.Use(cfg.Authority.RequirePrivileged)
				r.Post("/usage/refresh", cfg.RepoUsage.Refresh)
				r.Put("/restrictions", cfg.RepoUsage.SetRestrictions)
			})
		})

		r.Route("/people", func(r chi.Router) {
			r.With(cfg.Authority.RequirePrivileged).Post("/", cfg.Content.CreatePerson)
			r.Get("/{user}", cfg.Content.GetPerson)
			r.Patch("/{user}", cfg.Content.UpdatePerson)
		})

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", cfg.Content.UploadContent)
			r.Post("/folders", cfg.Content.CreateFolder)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Content.GetNode)
				r.Delete("/", cfg.Content.Delete)
				r.Get("/children", cfg.Content.ListChildren)
				r.Get("/content", cfg.Content.Download)
				r.Put("/content", cfg.Content.WriteContent)
				r.Put("/owner", cfg.Content.SetOwner)
				r.Post("/copy", cfg.Content.Copy)
				r.Post("/restore", cfg.Content.Restore)
			})
		})
	})

	return r
}
