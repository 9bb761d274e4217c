package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services"
)

// GroupRepository implements the repositories.GroupRepository interface
type GroupRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB, logger *zap.Logger) repositories.GroupRepository {
	return &GroupRepository{
		db:     db,
		logger: logger,
	}
}

const groupColumns = "id, user_id, name, description, permissions, user_ids, created_by, managed_by, department, created_at, updated_at"

func scanGroup(row interface{ Scan(...interface{}) error }) (*models.Group, error) {
	group := &models.Group{}
	var permissions []byte
	var userIDs []byte
	var createdBy, managedBy, department sql.NullString

	err := row.Scan(
		&group.ID,
		&group.OwnerID,
		&group.Name,
		&group.Description,
		&permissions,
		&userIDs,
		&createdBy,
		&managedBy,
		&department,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(permissions) > 0 {
		ac := &models.AccessControl{}
		if err := json.Unmarshal(permissions, ac); err != nil {
			return nil, fmt.Errorf("failed to decode group permissions: %w", err)
		}
		group.Permissions = ac
	}
	if len(userIDs) > 0 {
		if err := json.Unmarshal(userIDs, &group.UserIDs); err != nil {
			return nil, fmt.Errorf("failed to decode group members: %w", err)
		}
	}
	if group.UserIDs == nil {
		group.UserIDs = []string{}
	}
	if createdBy.Valid {
		group.CreatedBy = &createdBy.String
	}
	if managedBy.Valid {
		group.ManagedBy = &managedBy.String
	}
	if department.Valid {
		group.Department = &department.String
	}
	return group, nil
}

func encodeGroup(group *models.Group) (permissions, userIDs []byte, err error) {
	if group.Permissions != nil {
		permissions, err = json.Marshal(group.Permissions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode group permissions: %w", err)
		}
	}
	members := group.UserIDs
	if members == nil {
		members = []string{}
	}
	userIDs, err = json.Marshal(members)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode group members: %w", err)
	}
	return permissions, userIDs, nil
}

// Create creates a new group
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	permissions, userIDs, err := encodeGroup(group)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO groups (id, user_id, name, description, permissions, user_ids, created_by, managed_by, department, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		group.ID,
		group.OwnerID,
		group.Name,
		group.Description,
		permissions,
		userIDs,
		nullString(group.CreatedBy),
		nullString(group.ManagedBy),
		nullString(group.Department),
		group.CreatedAt,
		group.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return services.ErrDuplicateGroupName
		}
		return fmt.Errorf("failed to create group: %w", err)
	}

	r.logger.Debug("group created", zap.String("id", group.ID), zap.String("name", group.Name))
	return nil
}

// GetByID retrieves a group by ID
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	group, err := scanGroup(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// GetAll retrieves all groups ordered by most recently updated
func (r *GroupRepository) GetAll(ctx context.Context) ([]*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY updated_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

// GetByMemberID retrieves all groups whose member set contains userID.
// Membership is a JSONB containment check on the user_ids array, so a
// member id never matches as a substring of another id.
func (r *GroupRepository) GetByMemberID(ctx context.Context, userID string) ([]*models.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE user_ids @> to_jsonb($1::text)
		ORDER BY updated_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups by member: %w", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

// GetByDepartment retrieves all groups of a department
func (r *GroupRepository) GetByDepartment(ctx context.Context, department string) ([]*models.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE department = $1
		ORDER BY updated_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, department)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups by department: %w", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

// GetByManagedBy retrieves all groups managed by userID
func (r *GroupRepository) GetByManagedBy(ctx context.Context, userID string) ([]*models.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE managed_by = $1
		ORDER BY updated_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups by manager: %w", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

// GetByNames retrieves all groups whose name is in names
func (r *GroupRepository) GetByNames(ctx context.Context, names []string) ([]*models.Group, error) {
	if len(names) == 0 {
		return []*models.Group{}, nil
	}

	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE name = ANY($1)
		ORDER BY name ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query groups by names: %w", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

func collectGroups(rows *sql.Rows) ([]*models.Group, error) {
	groups := make([]*models.Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group rows: %w", err)
	}
	return groups, nil
}

// Update persists the full group record
func (r *GroupRepository) Update(ctx context.Context, group *models.Group) error {
	permissions, userIDs, err := encodeGroup(group)
	if err != nil {
		return err
	}

	query := `
		UPDATE groups
		SET name = $2,
		    description = $3,
		    permissions = $4,
		    user_ids = $5,
		    managed_by = $6,
		    department = $7,
		    updated_at = $8
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		group.ID,
		group.Name,
		group.Description,
		permissions,
		userIDs,
		nullString(group.ManagedBy),
		nullString(group.Department),
		group.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return services.ErrDuplicateGroupName
		}
		return fmt.Errorf("failed to update group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return services.ErrGroupNotFound
	}

	r.logger.Debug("group updated", zap.String("id", group.ID))
	return nil
}

// UpdateMembers persists only the member set and updated timestamp
func (r *GroupRepository) UpdateMembers(ctx context.Context, id string, userIDs []string, updatedAt int64) error {
	if userIDs == nil {
		userIDs = []string{}
	}
	encoded, err := json.Marshal(userIDs)
	if err != nil {
		return fmt.Errorf("failed to encode group members: %w", err)
	}

	query := `UPDATE groups SET user_ids = $2, updated_at = $3 WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, encoded, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update group members: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return services.ErrGroupNotFound
	}

	return nil
}

// Delete deletes a group by ID
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM groups WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return services.ErrGroupNotFound
	}

	r.logger.Debug("group deleted", zap.String("id", id))
	return nil
}

// DeleteAll deletes every group
func (r *GroupRepository) DeleteAll(ctx context.Context) error {
	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, `DELETE FROM groups`); err != nil {
		return fmt.Errorf("failed to delete groups: %w", err)
	}
	return nil
}
