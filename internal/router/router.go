package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"idea-server/internal/config"
	"idea-server/internal/handler"
	"idea-server/internal/middleware"
	"idea-server/internal/model"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	User    *handler.UserHandler
	Health  *handler.HealthHandler
	Metrics http.Handler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(rateLimitMiddleware.Handler)
		// The gate's store lookups run under the request deadline too.
		api.Use(middleware.Timeout(cfg.RequestTimeout))
		api.Use(authMiddleware.Authenticate)

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Auth.Login)
			auth.Post("/register", h.Auth.Register)
			auth.Post("/logout", h.Auth.Logout)
		})

		api.Route("/users/me", func(me chi.Router) {
			me.Use(authMiddleware.RequireAuth)
			me.Get("/", h.User.Me)
			me.Put("/", h.User.UpdateProfile)
			me.Put("/password", h.User.ChangePassword)
		})

		api.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin)).
			Put("/admin/users/{username}/status", h.User.UpdateStatus)
	})

	return r
}
