package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/knowledgehub/knowledge-hub/app"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Session endpoints
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signin", deps.AuthHandler.HandleSignIn)
			r.Post("/signout", deps.AuthHandler.HandleSignOut)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAuth)
				r.Get("/session", deps.AuthHandler.HandleGetSession)
				r.Post("/api-key", deps.AuthHandler.HandleIssueAPIKey)
				r.Get("/api-key", deps.AuthHandler.HandleGetAPIKey)
				r.Delete("/api-key", deps.AuthHandler.HandleRevokeAPIKey)
			})
		})

		// Group management
		r.Route("/groups", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", deps.GroupHandler.HandleList)
			r.Get("/managed", deps.GroupHandler.HandleManaged)
			r.Get("/{id}", deps.GroupHandler.HandleGet)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireManager)
				r.Post("/", deps.GroupHandler.HandleCreate)
				r.Put("/{id}", deps.GroupHandler.HandleUpdate)
				r.Delete("/{id}", deps.GroupHandler.HandleDelete)
				r.Post("/{id}/members", deps.GroupHandler.HandleAddMember)
				r.Delete("/{id}/members/{userID}", deps.GroupHandler.HandleRemoveMember)
				r.Get("/stats/department", deps.GroupHandler.HandleDepartmentStats)
			})
		})

		// Knowledge bases
		r.Route("/knowledge", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", deps.KnowledgeHandler.HandleList)
			r.Post("/", deps.KnowledgeHandler.HandleCreate)
			r.Get("/{id}", deps.KnowledgeHandler.HandleGet)
			r.Put("/{id}", deps.KnowledgeHandler.HandleUpdate)
			r.Delete("/{id}", deps.KnowledgeHandler.HandleDelete)
		})

		// User management
		r.Route("/users", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/me", deps.UserHandler.HandleGetMe)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAdmin)
				r.Get("/", deps.UserHandler.HandleList)
				r.Post("/", deps.UserHandler.HandleCreate)
				r.Get("/{id}", deps.UserHandler.HandleGet)
				r.Put("/{id}", deps.UserHandler.HandleUpdate)
				r.Delete("/{id}", deps.UserHandler.HandleDelete)
			})
		})

		// Audit logs (require admin role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireAdmin)
			r.Get("/logs", deps.AuditHandler.HandleList)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
