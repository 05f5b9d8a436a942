package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints. Extra
// middleware (request logging, tracing) runs after the built-in stack.
func (a *API) Routes(extra ...func(http.Handler) http.Handler) (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{a.config.ClientURL}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range extra {
		r.Use(mw)
	}
	r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.sessions.Len()})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/start", a.handleAuthStart)
			r.Get("/callback", a.handleAuthCallback)
			r.Post("/token", a.handleTokenLogin)
			r.Post("/logout", a.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)

			r.Get("/repositories", a.handleListRepositories)
			r.Get("/repositories/{owner}/{repo}/files", a.handleListFiles)
			r.Get("/repositories/{owner}/{repo}/files/*", a.handleReadFile)
			r.Get("/repositories/{owner}/{repo}/pulls", a.handleListPullRequests)
			r.Get("/repositories/{owner}/{repo}/pulls/{number}", a.handleGetPullRequest)
			r.Post("/repositories/generate-summaries", a.handleGenerateSummaries)
			r.Post("/repositories/generate-code", a.handleGenerateCode)
			r.Post("/repositories/create-pr", a.handleCreatePR)

			r.Get("/workflow", a.handleWorkflowState)
			r.Post("/workflow/files/toggle", a.handleToggleFile)
			r.Post("/workflow/files", a.handleSetSelection)
			r.Post("/workflow/rewind", a.handleRewind)
			r.Post("/workflow/restart", a.handleRestart)

			r.Get("/publications", a.handleListPublications)
		})
	})

	return r, nil
}
