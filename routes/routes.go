package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/transcriber-gateway/app"
	"github.com/upb/transcriber-gateway/handlers"
	"github.com/upb/transcriber-gateway/identity"
	"github.com/upb/transcriber-gateway/internal/observability"
	gwmiddleware "github.com/upb/transcriber-gateway/middleware"
	"github.com/upb/transcriber-gateway/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(gwmiddleware.CapturePeer)
	r.Use(middleware.RealIP)
	r.Use(observability.AccessLog(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := newHealthHandler(deps)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	accounts := handlers.NewAccountHandler(deps.Logger)

	// Every route under the protected prefix passes the verification gateway
	r.Route(deps.Config.Gateway.ProtectedPrefix, func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware)
		}
		r.Use(deps.GatewayMiddleware.RequireAccount)

		r.Post("/useraccount", accounts.HandleProcess)

		// Unknown paths are still gated before the 404
		r.NotFound(notFound)
		r.MethodNotAllowed(notFound)
	})

	// 404 handler
	r.NotFound(notFound)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteNotFound(w, "endpoint not found")
}

func newHealthHandler(deps *app.Dependencies) *handlers.HealthHandler {
	var database handlers.CheckFunc
	if deps.DB != nil {
		database = deps.DB.HealthCheck
	}
	h := handlers.NewHealthHandler(database, deps.Logger)
	if cache, ok := deps.IdentityCache.(*identity.RedisCache); ok {
		h.WithCheck("identity_cache", cache.Ping)
	}
	return h
}
