package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/app"
	"github.com/knowledgehub/knowledge-hub/config"
	"github.com/knowledgehub/knowledge-hub/handlers"
	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/services"
	"github.com/knowledgehub/knowledge-hub/services/identity"
)

type rejectAllResolver struct{}

func (rejectAllResolver) Resolve(ctx context.Context, cred identity.Credential) (*models.User, error) {
	return nil, services.ErrInvalidToken
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
	}
	deps := &app.Dependencies{
		Config:         cfg,
		Logger:         logger,
		AuthMiddleware: middleware.NewAuthMiddleware(rejectAllResolver{}, cfg.Auth, logger),
		HealthHandler:  handlers.NewHealthHandler(nil, logger),
	}
	return SetupRoutes(deps)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterUnknownEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"endpoint not found"}`, rec.Body.String())
}

func TestRouterProtectedRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(t)

	paths := []string{
		"/api/v1/auth/session",
		"/api/v1/groups",
		"/api/v1/knowledge",
		"/api/v1/users/me",
		"/api/v1/audit/logs",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
