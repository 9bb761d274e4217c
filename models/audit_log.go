package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionPolicyException AuditAction = "policy_exception" // legacy admin override path
	AuditActionAccessDenied    AuditAction = "access_denied"
	AuditActionGroupCreated    AuditAction = "group_created"
	AuditActionGroupUpdated    AuditAction = "group_updated"
	AuditActionGroupDeleted    AuditAction = "group_deleted"
	AuditActionMemberAdded     AuditAction = "member_added"
	AuditActionMemberRemoved   AuditAction = "member_removed"
	AuditActionAPIKeyIssued    AuditAction = "api_key_issued"
	AuditActionAPIKeyRevoked   AuditAction = "api_key_revoked"
	AuditActionUserDeleted     AuditAction = "user_deleted"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ActorID      string          `json:"actor_id" db:"actor_id"`
	ActorRole    string          `json:"actor_role" db:"actor_role"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // group, knowledge_base, user
	ResourceID   *string         `json:"resource_id,omitempty" db:"resource_id"`
	Reason       string          `json:"reason" db:"reason"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(actorID string, actorRole UserRole, action AuditAction, resourceType string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		ActorID:      actorID,
		ActorRole:    string(actorRole),
		Action:       action,
		ResourceType: resourceType,
		Timestamp:    time.Now(),
	}
}

// WithResource sets the resource ID
func (a *AuditLog) WithResource(resourceID string) *AuditLog {
	a.ResourceID = &resourceID
	return a
}

// WithReason sets the human-readable reason for the record
func (a *AuditLog) WithReason(reason string) *AuditLog {
	a.Reason = reason
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	return a
}
