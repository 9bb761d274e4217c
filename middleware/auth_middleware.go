package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/config"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/services"
	"github.com/knowledgehub/knowledge-hub/services/identity"
	"github.com/knowledgehub/knowledge-hub/services/token"
	"github.com/knowledgehub/knowledge-hub/utils"
)

// IdentityResolver resolves a credential to a user
type IdentityResolver interface {
	Resolve(ctx context.Context, cred identity.Credential) (*models.User, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	resolver IdentityResolver
	cfg      config.AuthConfig
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(resolver IdentityResolver, cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
	}
}

// tokenCookieName is the cookie name for session tokens
// (Authorization header takes precedence)
const tokenCookieName = "token"

// RequireAuth is a middleware that requires a valid session token or
// API key. API key requests are additionally checked against the API
// key endpoint allow-list before any identity lookup happens.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimiddleware.GetReqID(ctx)

		credential := extractToken(r)
		if credential == "" {
			m.logger.Warn("missing credential",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		if token.IsAPIKey(credential) {
			if !m.cfg.APIKeyEnabled {
				m.logger.Warn("api key authentication disabled",
					zap.String("request_id", requestID))
				_ = utils.WriteForbidden(w, "Use of API key is not enabled")
				return
			}
			if !m.pathAllowedForAPIKey(r.URL.Path) {
				m.logger.Warn("api key used on restricted endpoint",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path))
				_ = utils.WriteForbidden(w, "API key not allowed for this endpoint")
				return
			}
		}

		cred := identity.Credential{Token: credential}
		if m.cfg.TrustedEmailHeader != "" {
			cred.TrustedEmail = r.Header.Get(m.cfg.TrustedEmailHeader)
		}

		user, err := m.resolver.Resolve(ctx, cred)
		if err != nil {
			m.logger.Warn("credential resolution failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			if errors.Is(err, services.ErrUserMismatch) {
				// The session no longer matches the upstream identity.
				// Expire the cookie so the client re-authenticates.
				m.clearSessionCookie(w)
			}
			if services.IsForbiddenError(err) {
				_ = utils.WriteForbidden(w, "Access prohibited")
				return
			}
			_ = utils.WriteUnauthorized(w, "Invalid or expired credential")
			return
		}

		ctx = WithUser(ctx, user)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID),
			zap.String("role", string(user.Role)))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin requires the resolved user to be an admin.
// Must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.requireRole(next, func(u *models.User) bool {
		return u.IsAdmin()
	})
}

// RequireManager requires the resolved user to be an admin or a
// department manager. Must run after RequireAuth.
func (m *AuthMiddleware) RequireManager(next http.Handler) http.Handler {
	return m.requireRole(next, func(u *models.User) bool {
		return u.IsAdmin() || u.IsDepartmentManager()
	})
}

func (m *AuthMiddleware) requireRole(next http.Handler, allowed func(*models.User) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := GetUserFromContext(ctx)
		if user == nil {
			m.logger.Error("user not found in context",
				zap.String("request_id", chimiddleware.GetReqID(ctx)))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		if !allowed(user) {
			m.logger.Warn("insufficient permissions",
				zap.String("request_id", chimiddleware.GetReqID(ctx)),
				zap.String("user_id", user.ID),
				zap.String("role", string(user.Role)))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// pathAllowedForAPIKey checks the request path against the configured
// API key endpoint prefixes. An empty allow-list means no restriction.
func (m *AuthMiddleware) pathAllowedForAPIKey(path string) bool {
	if len(m.cfg.APIKeyAllowedPaths) == 0 {
		return true
	}
	for _, prefix := range m.cfg.APIKeyAllowedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractToken extracts the credential from the Authorization header
// ("Bearer TOKEN") or the "token" cookie. The header takes precedence.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
