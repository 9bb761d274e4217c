package models

import (
	"fmt"
	"time"
)

// UserRole represents the role of a user. The set is closed; unknown
// values are rejected at the identity-resolution boundary.
type UserRole string

const (
	RoleAdmin             UserRole = "admin"
	RoleDepartmentManager UserRole = "department_manager"
	RoleUser              UserRole = "user"
)

// Valid reports whether the role is one of the known values.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleDepartmentManager, RoleUser:
		return true
	}
	return false
}

// ParseUserRole converts a stored role string into a UserRole
func ParseUserRole(s string) (UserRole, error) {
	role := UserRole(s)
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// User represents a resolved principal in the system
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	Role         UserRole  `json:"role" db:"role"`
	Department   *string   `json:"department,omitempty" db:"department"` // set for department_manager and department-scoped users, ignored for admin
	APIKey       *string   `json:"-" db:"api_key"`
	LastActiveAt time.Time `json:"last_active_at" db:"last_active_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsDepartmentManager returns true if the user has the department_manager role
func (u *User) IsDepartmentManager() bool {
	return u.Role == RoleDepartmentManager
}

// DepartmentID returns the user's department, or "" when none is assigned
func (u *User) DepartmentID() string {
	if u.Department == nil {
		return ""
	}
	return *u.Department
}
