package middleware

import (
	"context"

	"github.com/knowledgehub/knowledge-hub/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// UserKey is the context key for the resolved user
	UserKey contextKey = "user"
)

// WithUser adds the resolved user to the context
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUserFromContext retrieves the resolved user from context
func GetUserFromContext(ctx context.Context) *models.User {
	if val := ctx.Value(UserKey); val != nil {
		if user, ok := val.(*models.User); ok {
			return user
		}
	}
	return nil
}
