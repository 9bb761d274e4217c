package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// KnowledgeBase represents a shared knowledge base governed by the same
// ownership/ACL model as groups. Ingestion and vector storage live
// outside this service; Data carries their opaque payload.
type KnowledgeBase struct {
	ID            string          `json:"id" db:"id"`
	OwnerID       string          `json:"user_id" db:"user_id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	Data          json.RawMessage `json:"data,omitempty" db:"data"`
	AccessControl *AccessControl  `json:"access_control,omitempty" db:"access_control"`
	CreatedAt     int64           `json:"created_at" db:"created_at"`
	UpdatedAt     int64           `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the KnowledgeBase model
func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// NewKnowledgeBase creates a new KnowledgeBase owned by ownerID
func NewKnowledgeBase(ownerID, name, description string, ac *AccessControl) *KnowledgeBase {
	now := time.Now().Unix()
	return &KnowledgeBase{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Name:          name,
		Description:   description,
		AccessControl: ac,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch bumps the updated timestamp
func (k *KnowledgeBase) Touch() {
	k.UpdatedAt = time.Now().Unix()
}

// ResourceID implements Resource
func (k *KnowledgeBase) ResourceID() string { return k.ID }

// ResourceOwnerID implements Resource
func (k *KnowledgeBase) ResourceOwnerID() string { return k.OwnerID }

// ResourceAccessControl implements Resource
func (k *KnowledgeBase) ResourceAccessControl() *AccessControl { return k.AccessControl }
