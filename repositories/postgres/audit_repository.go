package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = "id, actor_id, actor_role, action, resource_type, resource_id, reason, details, ip_address, request_id, timestamp"

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, actor_role, action, resource_type, resource_id,
			reason, details, ip_address, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	var details []byte
	if log.Details != nil {
		details = log.Details
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.ActorID,
		log.ActorRole,
		string(log.Action),
		log.ResourceType,
		nullString(log.ResourceID),
		log.Reason,
		details,
		log.IPAddress,
		log.RequestID,
		log.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted",
		zap.String("id", log.ID.String()),
		zap.String("action", string(log.Action)))
	return nil
}

// GetByActorID retrieves audit logs for an actor with pagination
func (r *AuditRepository) GetByActorID(ctx context.Context, actorID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE actor_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, actorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	return collectAuditLogs(rows)
}

// GetByAction retrieves audit logs by action type with pagination
func (r *AuditRepository) GetByAction(ctx context.Context, action models.AuditAction, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE action = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, string(action), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	return collectAuditLogs(rows)
}

func collectAuditLogs(rows *sql.Rows) ([]*models.AuditLog, error) {
	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log := &models.AuditLog{}
		var action string
		var resourceID sql.NullString
		var details []byte

		err := rows.Scan(
			&log.ID,
			&log.ActorID,
			&log.ActorRole,
			&action,
			&log.ResourceType,
			&resourceID,
			&log.Reason,
			&details,
			&log.IPAddress,
			&log.RequestID,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		log.Action = models.AuditAction(action)
		if resourceID.Valid {
			log.ResourceID = &resourceID.String
		}
		if len(details) > 0 {
			log.Details = details
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return logs, nil
}
