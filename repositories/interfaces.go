package repositories

import (
	"context"
	"time"

	"github.com/knowledgehub/knowledge-hub/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByAPIKey retrieves a user by API key
	GetByAPIKey(ctx context.Context, apiKey string) (*models.User, error)

	// List retrieves all users with pagination
	List(ctx context.Context, limit, offset int) ([]*models.User, error)

	// GetByDepartment retrieves all users of a department
	GetByDepartment(ctx context.Context, department string) ([]*models.User, error)

	// Update updates a user
	Update(ctx context.Context, user *models.User) error

	// UpdateAPIKey sets or clears a user's API key
	UpdateAPIKey(ctx context.Context, id string, apiKey *string) error

	// UpdateLastActiveAt sets the user's last-active timestamp
	UpdateLastActiveAt(ctx context.Context, id string, at time.Time) error

	// Delete deletes a user
	Delete(ctx context.Context, id string) error
}

// GroupRepository handles group data operations
type GroupRepository interface {
	// Create creates a new group
	Create(ctx context.Context, group *models.Group) error

	// GetByID retrieves a group by ID
	GetByID(ctx context.Context, id string) (*models.Group, error)

	// GetAll retrieves all groups ordered by most recently updated
	GetAll(ctx context.Context) ([]*models.Group, error)

	// GetByMemberID retrieves all groups whose member set contains userID
	GetByMemberID(ctx context.Context, userID string) ([]*models.Group, error)

	// GetByDepartment retrieves all groups of a department
	GetByDepartment(ctx context.Context, department string) ([]*models.Group, error)

	// GetByManagedBy retrieves all groups managed by userID
	GetByManagedBy(ctx context.Context, userID string) ([]*models.Group, error)

	// GetByNames retrieves all groups whose name is in names
	GetByNames(ctx context.Context, names []string) ([]*models.Group, error)

	// Update persists the full group record
	Update(ctx context.Context, group *models.Group) error

	// UpdateMembers persists only the member set and updated timestamp
	UpdateMembers(ctx context.Context, id string, userIDs []string, updatedAt int64) error

	// Delete deletes a group by ID
	Delete(ctx context.Context, id string) error

	// DeleteAll deletes every group
	DeleteAll(ctx context.Context) error
}

// KnowledgeRepository handles knowledge base data operations
type KnowledgeRepository interface {
	// Create creates a new knowledge base
	Create(ctx context.Context, kb *models.KnowledgeBase) error

	// GetByID retrieves a knowledge base by ID
	GetByID(ctx context.Context, id string) (*models.KnowledgeBase, error)

	// GetAll retrieves all knowledge bases ordered by most recently updated
	GetAll(ctx context.Context) ([]*models.KnowledgeBase, error)

	// GetByOwnerID retrieves all knowledge bases owned by userID
	GetByOwnerID(ctx context.Context, userID string) ([]*models.KnowledgeBase, error)

	// Update updates a knowledge base
	Update(ctx context.Context, kb *models.KnowledgeBase) error

	// Delete deletes a knowledge base by ID
	Delete(ctx context.Context, id string) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByActorID retrieves audit logs for an actor with pagination
	GetByActorID(ctx context.Context, actorID string, limit, offset int) ([]*models.AuditLog, error)

	// GetByAction retrieves audit logs by action type with pagination
	GetByAction(ctx context.Context, action models.AuditAction, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users     UserRepository
	Groups    GroupRepository
	Knowledge KnowledgeRepository
	AuditLogs AuditRepository
}
