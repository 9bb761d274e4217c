package models

// AccessAction identifies the operation an access grant covers
type AccessAction string

const (
	ActionRead      AccessAction = "read"
	ActionWrite     AccessAction = "write"
	ActionManage    AccessAction = "manage"
	ActionAddMember AccessAction = "add_member"
)

// AccessGrant lists the users and groups explicitly granted one action
type AccessGrant struct {
	UserIDs  []string `json:"user_ids"`
	GroupIDs []string `json:"group_ids"`
}

// AccessControl is the explicit-grant structure carried by shared
// resources. A nil AccessControl means no explicit grants exist and
// only the owner has access.
type AccessControl struct {
	Read  AccessGrant `json:"read"`
	Write AccessGrant `json:"write"`
}

// Grant returns the grant set for the given action. Manage and
// add-member rights are never ACL-granted; they follow ownership and
// role rules only.
func (ac *AccessControl) Grant(action AccessAction) *AccessGrant {
	if ac == nil {
		return nil
	}
	switch action {
	case ActionRead:
		return &ac.Read
	case ActionWrite:
		return &ac.Write
	}
	return nil
}

// Resource is any shared entity the policy engine can decide on:
// an owner plus an optional explicit-grant ACL.
type Resource interface {
	ResourceID() string
	ResourceOwnerID() string
	ResourceAccessControl() *AccessControl
}
