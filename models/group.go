package models

import (
	"time"

	"github.com/google/uuid"
)

// Group represents a named collection of users with ownership and
// optional department attribution. The department fields are nullable
// for records created before department features existed.
type Group struct {
	ID          string         `json:"id" db:"id"`
	OwnerID     string         `json:"user_id" db:"user_id"` // legacy creator field
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Permissions *AccessControl `json:"permissions,omitempty" db:"permissions"`
	UserIDs     []string       `json:"user_ids" db:"user_ids"`
	CreatedBy   *string        `json:"created_by,omitempty" db:"created_by"`
	ManagedBy   *string        `json:"managed_by,omitempty" db:"managed_by"`
	Department  *string        `json:"department,omitempty" db:"department"`
	CreatedAt   int64          `json:"created_at" db:"created_at"` // epoch seconds
	UpdatedAt   int64          `json:"updated_at" db:"updated_at"` // epoch seconds
}

// TableName returns the table name for the Group model
func (Group) TableName() string {
	return "groups"
}

// NewGroup creates a new Group owned by ownerID with a deduplicated
// member set.
func NewGroup(ownerID, name, description string, memberIDs []string) *Group {
	now := time.Now().Unix()
	return &Group{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		UserIDs:     DedupeIDs(memberIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasMember reports whether userID is in the member set
func (g *Group) HasMember(userID string) bool {
	for _, id := range g.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddMember adds userID to the member set, returning true when the set
// changed. Membership is never duplicated.
func (g *Group) AddMember(userID string) bool {
	if g.HasMember(userID) {
		return false
	}
	g.UserIDs = append(g.UserIDs, userID)
	return true
}

// RemoveMember removes userID from the member set, returning true when
// the set changed.
func (g *Group) RemoveMember(userID string) bool {
	for i, id := range g.UserIDs {
		if id == userID {
			g.UserIDs = append(g.UserIDs[:i], g.UserIDs[i+1:]...)
			return true
		}
	}
	return false
}

// Touch bumps the updated timestamp. Every mutation must be followed by
// a Touch before persisting.
func (g *Group) Touch() {
	g.UpdatedAt = time.Now().Unix()
}

// DepartmentID returns the group's department, or "" when unattributed
func (g *Group) DepartmentID() string {
	if g.Department == nil {
		return ""
	}
	return *g.Department
}

// ResourceID implements Resource
func (g *Group) ResourceID() string { return g.ID }

// ResourceOwnerID implements Resource
func (g *Group) ResourceOwnerID() string { return g.OwnerID }

// ResourceAccessControl implements Resource
func (g *Group) ResourceAccessControl() *AccessControl { return g.Permissions }

// DedupeIDs returns ids with duplicates removed, preserving first-seen
// order.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
