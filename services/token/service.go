// Package token issues and validates the two credential kinds the
// system accepts: signed session tokens (HS256 JWTs carrying a subject
// and optional expiry) and opaque API keys ("sk-" prefixed lookup
// secrets with no embedded structure).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/services"
)

const apiKeyPrefix = "sk-"

// Claims are the validated claims of a session token
type Claims struct {
	Subject   string
	ExpiresAt *time.Time
}

// Service signs and verifies session tokens and generates API keys
type Service struct {
	secret     []byte
	trustedKey []byte
	logger     *zap.Logger
}

// Config holds the server-held secrets for the token service
type Config struct {
	Secret              string // session token signing secret
	TrustedSignatureKey string // key for out-of-band signed payloads
}

// NewService creates a new token Service
func NewService(cfg Config, logger *zap.Logger) *Service {
	return &Service{
		secret:     []byte(cfg.Secret),
		trustedKey: []byte(cfg.TrustedSignatureKey),
		logger:     logger,
	}
}

// IsAPIKey reports whether the credential is an API key. Anything
// without the "sk-" prefix is treated as a session token.
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, apiKeyPrefix)
}

// Issue produces a signed session token for the subject. A zero ttl
// issues a token without an expiry claim.
func (s *Service) Issue(subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{"sub": subject}
	if ttl != 0 {
		claims["exp"] = jwt.NewNumericDate(time.Now().Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", services.WrapInternal("failed to sign token", err)
	}
	return signed, nil
}

// Validate verifies the token signature and expiry and returns its
// claims. Malformed or tampered tokens and tokens signed with an
// unexpected algorithm are rejected.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		return nil, services.ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, services.ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, services.ErrInvalidToken
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		claims.ExpiresAt = &t
	}

	return claims, nil
}

// IssueAPIKey generates an opaque API key: the literal "sk-" prefix
// followed by 32 lowercase hex characters. The key carries no embedded
// structure and is usable only as a lookup secret.
func (s *Service) IssueAPIKey() string {
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	return apiKeyPrefix + key
}

// VerifySignedPayload verifies the HMAC-SHA256 signature of a trusted
// out-of-band payload (license and webhook messages). Comparison is
// constant-time, and any failure during verification yields false
// rather than an error.
func (s *Service) VerifySignedPayload(payload, signature string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("signature verification panicked", zap.Any("cause", r))
			ok = false
		}
	}()

	mac := hmac.New(sha256.New, s.trustedKey)
	if _, err := mac.Write([]byte(payload)); err != nil {
		return false
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
