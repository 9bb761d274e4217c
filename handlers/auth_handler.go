package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/config"
	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services"
	"github.com/knowledgehub/knowledge-hub/services/policy"
	"github.com/knowledgehub/knowledge-hub/services/token"
	"github.com/knowledgehub/knowledge-hub/utils"
)

// SignInRequest represents a sign-in request. When a trusted email
// header is configured the body email must match the header value.
type SignInRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SessionResponse represents the signed-in session
type SessionResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	User      *models.User `json:"user"`
}

// APIKeyResponse carries a user's API key
type APIKeyResponse struct {
	APIKey string `json:"api_key"`
}

// AuthHandler handles authentication HTTP requests
type AuthHandler struct {
	users  repositories.UserRepository
	tokens *token.Service
	audit  policy.AuditRecorder
	cfg    config.AuthConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(users repositories.UserRepository, tokens *token.Service, audit policy.AuditRecorder, cfg config.AuthConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		audit:  audit,
		cfg:    cfg,
		logger: logger,
	}
}

// signatureHeader carries the upstream authenticator's HMAC signature
// over the sign-in email when header-based identity is not in use.
const signatureHeader = "X-Auth-Signature"

// HandleSignIn handles POST /api/v1/auth/signin.
// Password verification happens upstream (reverse proxy / SSO). The
// upstream identity must be attested either by the trusted email
// header or by an HMAC signature over the email; with neither
// mechanism configured sign-in is refused.
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	switch {
	case h.cfg.TrustedEmailHeader != "":
		trusted := r.Header.Get(h.cfg.TrustedEmailHeader)
		if trusted == "" || trusted != req.Email {
			h.logger.Warn("sign-in email does not match trusted header",
				zap.String("email", req.Email))
			_ = utils.WriteUnauthorized(w, "Email does not match authenticated identity")
			return
		}
	case h.cfg.TrustedSignatureKey != "":
		sig := r.Header.Get(signatureHeader)
		if sig == "" || !h.tokens.VerifySignedPayload(req.Email, sig) {
			h.logger.Warn("sign-in signature verification failed",
				zap.String("email", req.Email))
			_ = utils.WriteUnauthorized(w, "Invalid identity signature")
			return
		}
	default:
		h.logger.Error("sign-in refused: no upstream identity verification configured")
		_ = utils.WriteUnauthorized(w, "Sign-in is not available")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Warn("sign-in for unknown email", zap.String("email", req.Email))
		_ = utils.WriteUnauthorized(w, "Invalid credentials")
		return
	}

	signed, err := h.tokens.Issue(user.ID, h.cfg.TokenTTL)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to issue token", err), h.logger)
		return
	}

	h.setTokenCookie(w, signed)
	_ = utils.WriteOK(w, SessionResponse{
		Token:     signed,
		TokenType: "Bearer",
		User:      user,
	})
}

// HandleSignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	_ = utils.WriteOK(w, map[string]bool{"signed_out": true})
}

// HandleGetSession handles GET /api/v1/auth/session
func (h *AuthHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	_ = utils.WriteOK(w, user)
}

// HandleIssueAPIKey handles POST /api/v1/auth/api-key.
// Issuing again rotates the key; the old one stops working.
func (h *AuthHandler) HandleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	if !h.cfg.APIKeyEnabled {
		_ = utils.WriteForbidden(w, "Use of API key is not enabled")
		return
	}

	key := h.tokens.IssueAPIKey()
	if err := h.users.UpdateAPIKey(r.Context(), user.ID, &key); err != nil {
		HandleServiceError(w, services.WrapInternal("failed to store api key", err), h.logger)
		return
	}

	h.logger.Info("api key issued", zap.String("user_id", user.ID))
	if h.audit != nil {
		h.audit.Record(models.NewAuditLog(user.ID, user.Role, models.AuditActionAPIKeyIssued, "user").
			WithResource(user.ID))
	}
	_ = utils.WriteCreated(w, APIKeyResponse{APIKey: key})
}

// HandleGetAPIKey handles GET /api/v1/auth/api-key
func (h *AuthHandler) HandleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	// Context user comes from the resolver and may be stale; re-read
	current, err := h.users.GetByID(r.Context(), user.ID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if current.APIKey == nil {
		_ = utils.WriteNotFound(w, "No API key set")
		return
	}
	_ = utils.WriteOK(w, APIKeyResponse{APIKey: *current.APIKey})
}

// HandleRevokeAPIKey handles DELETE /api/v1/auth/api-key
func (h *AuthHandler) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	if err := h.users.UpdateAPIKey(r.Context(), user.ID, nil); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("api key revoked", zap.String("user_id", user.ID))
	if h.audit != nil {
		h.audit.Record(models.NewAuditLog(user.ID, user.Role, models.AuditActionAPIKeyRevoked, "user").
			WithResource(user.ID))
	}
	utils.WriteNoContent(w)
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, signed string) {
	cookie := &http.Cookie{
		Name:     "token",
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.TokenTTL > 0 {
		cookie.MaxAge = int(h.cfg.TokenTTL.Seconds())
	}
	http.SetCookie(w, cookie)
}
