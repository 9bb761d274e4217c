package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services"
)

// KnowledgeRepository implements the repositories.KnowledgeRepository interface
type KnowledgeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewKnowledgeRepository creates a new knowledge repository
func NewKnowledgeRepository(db *DB, logger *zap.Logger) repositories.KnowledgeRepository {
	return &KnowledgeRepository{
		db:     db,
		logger: logger,
	}
}

const knowledgeColumns = "id, user_id, name, description, data, access_control, created_at, updated_at"

func scanKnowledge(row interface{ Scan(...interface{}) error }) (*models.KnowledgeBase, error) {
	kb := &models.KnowledgeBase{}
	var data []byte
	var accessControl []byte

	err := row.Scan(
		&kb.ID,
		&kb.OwnerID,
		&kb.Name,
		&kb.Description,
		&data,
		&accessControl,
		&kb.CreatedAt,
		&kb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		kb.Data = json.RawMessage(data)
	}
	if len(accessControl) > 0 {
		ac := &models.AccessControl{}
		if err := json.Unmarshal(accessControl, ac); err != nil {
			return nil, fmt.Errorf("failed to decode access control: %w", err)
		}
		kb.AccessControl = ac
	}
	return kb, nil
}

func encodeKnowledge(kb *models.KnowledgeBase) (data, accessControl []byte, err error) {
	if kb.Data != nil {
		data = kb.Data
	}
	if kb.AccessControl != nil {
		accessControl, err = json.Marshal(kb.AccessControl)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode access control: %w", err)
		}
	}
	return data, accessControl, nil
}

// Create creates a new knowledge base
func (r *KnowledgeRepository) Create(ctx context.Context, kb *models.KnowledgeBase) error {
	data, accessControl, err := encodeKnowledge(kb)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO knowledge_bases (id, user_id, name, description, data, access_control, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		kb.ID,
		kb.OwnerID,
		kb.Name,
		kb.Description,
		data,
		accessControl,
		kb.CreatedAt,
		kb.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create knowledge base: %w", err)
	}

	r.logger.Debug("knowledge base created", zap.String("id", kb.ID), zap.String("name", kb.Name))
	return nil
}

// GetByID retrieves a knowledge base by ID
func (r *KnowledgeRepository) GetByID(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_bases WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	kb, err := scanKnowledge(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrKnowledgeNotFound
		}
		return nil, fmt.Errorf("failed to get knowledge base: %w", err)
	}
	return kb, nil
}

// GetAll retrieves all knowledge bases ordered by most recently updated
func (r *KnowledgeRepository) GetAll(ctx context.Context) ([]*models.KnowledgeBase, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_bases ORDER BY updated_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge bases: %w", err)
	}
	defer rows.Close()

	return collectKnowledge(rows)
}

// GetByOwnerID retrieves all knowledge bases owned by userID
func (r *KnowledgeRepository) GetByOwnerID(ctx context.Context, userID string) ([]*models.KnowledgeBase, error) {
	query := `
		SELECT ` + knowledgeColumns + `
		FROM knowledge_bases
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge bases: %w", err)
	}
	defer rows.Close()

	return collectKnowledge(rows)
}

func collectKnowledge(rows *sql.Rows) ([]*models.KnowledgeBase, error) {
	bases := make([]*models.KnowledgeBase, 0)
	for rows.Next() {
		kb, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		bases = append(bases, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge base rows: %w", err)
	}
	return bases, nil
}

// Update updates a knowledge base
func (r *KnowledgeRepository) Update(ctx context.Context, kb *models.KnowledgeBase) error {
	data, accessControl, err := encodeKnowledge(kb)
	if err != nil {
		return err
	}

	query := `
		UPDATE knowledge_bases
		SET name = $2,
		    description = $3,
		    data = $4,
		    access_control = $5,
		    updated_at = $6
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		kb.ID,
		kb.Name,
		kb.Description,
		data,
		accessControl,
		kb.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update knowledge base: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return services.ErrKnowledgeNotFound
	}

	r.logger.Debug("knowledge base updated", zap.String("id", kb.ID))
	return nil
}

// Delete deletes a knowledge base by ID
func (r *KnowledgeRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM knowledge_bases WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return services.ErrKnowledgeNotFound
	}

	r.logger.Debug("knowledge base deleted", zap.String("id", id))
	return nil
}
