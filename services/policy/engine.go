// Package policy implements the permission-decision core: ownership
// checks, explicit per-resource grants, role-based overrides, and
// department-scoped management rights.
package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
)

// GroupReader is the read-side of group storage the engine depends on
type GroupReader interface {
	GetAll(ctx context.Context) ([]*models.Group, error)
	GetByMemberID(ctx context.Context, userID string) ([]*models.Group, error)
	GetByDepartment(ctx context.Context, department string) ([]*models.Group, error)
}

// AuditRecorder receives policy-exception records. Recording must not
// block decisions.
type AuditRecorder interface {
	Record(log *models.AuditLog)
}

// Config holds the engine's process-wide flags, fixed at construction.
// A configuration reload builds a new engine.
type Config struct {
	// LegacyAdminOverride lets admins bypass explicit-grant checks on
	// resources they neither own nor were granted. Off by default for
	// compliance; every use is audit-logged.
	LegacyAdminOverride bool
}

// ReasonLegacyOverride marks decisions allowed only through the
// legacy admin override. Callers may use it to exclude such access
// from discovery surfaces.
const ReasonLegacyOverride = "legacy admin override"

// Decision is the outcome of a permission check with its reason,
// suitable for audit logging.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine is the permission-decision core. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	groups GroupReader
	audit  AuditRecorder
	cache  *MembershipCache
	cfg    Config
	logger *zap.Logger
}

// NewEngine creates a new Engine
func NewEngine(groups GroupReader, audit AuditRecorder, cache *MembershipCache, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		groups: groups,
		audit:  audit,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// Decide evaluates whether user may perform action on resource.
// Read and write route through ownership, explicit grants, and the
// legacy override; manage and add-member only apply to groups and are
// decided by CanManageGroup/CanAddMember.
func (e *Engine) Decide(ctx context.Context, user *models.User, resource models.Resource, action models.AccessAction) Decision {
	switch action {
	case models.ActionRead, models.ActionWrite:
		return e.decideAccess(ctx, user, resource, action)
	case models.ActionManage:
		if group, ok := resource.(*models.Group); ok {
			if e.CanManageGroup(user, group) {
				return Decision{Allowed: true, Reason: "group management rights"}
			}
			return Decision{Reason: "no management rights on group"}
		}
		return Decision{Reason: "manage action only applies to groups"}
	case models.ActionAddMember:
		return Decision{Reason: "add_member is decided per target user, use CanAddMember"}
	}
	return Decision{Reason: fmt.Sprintf("unknown action %q", action)}
}

// CanRead reports whether user may read resource
func (e *Engine) CanRead(ctx context.Context, user *models.User, resource models.Resource) bool {
	return e.decideAccess(ctx, user, resource, models.ActionRead).Allowed
}

// CanWrite reports whether user may write resource
func (e *Engine) CanWrite(ctx context.Context, user *models.User, resource models.Resource) bool {
	return e.decideAccess(ctx, user, resource, models.ActionWrite).Allowed
}

func (e *Engine) decideAccess(ctx context.Context, user *models.User, resource models.Resource, action models.AccessAction) Decision {
	if user.ID == resource.ResourceOwnerID() {
		return Decision{Allowed: true, Reason: "resource owner"}
	}

	if grant := resource.ResourceAccessControl().Grant(action); grant != nil {
		if e.isGranted(ctx, user, grant) {
			return Decision{Allowed: true, Reason: fmt.Sprintf("explicit %s grant", action)}
		}
	}

	// Compatibility path: admin bypass of explicit grants. Not
	// privacy-compliant, hence the warning-level audit trail.
	if e.cfg.LegacyAdminOverride && user.IsAdmin() {
		e.logger.Warn("admin accessing resource via legacy override",
			zap.String("admin_id", user.ID),
			zap.String("resource_id", resource.ResourceID()),
			zap.String("action", string(action)))
		if e.audit != nil {
			e.audit.Record(models.NewAuditLog(user.ID, user.Role, models.AuditActionPolicyException, resourceType(resource)).
				WithResource(resource.ResourceID()).
				WithReason(fmt.Sprintf("legacy admin override for %s", action)))
		}
		return Decision{Allowed: true, Reason: ReasonLegacyOverride}
	}

	return Decision{Reason: fmt.Sprintf("no %s access: not owner, not granted", action)}
}

// isGranted checks the explicit grant set: the user directly, then any
// group the user belongs to. Membership lookup failures deny.
func (e *Engine) isGranted(ctx context.Context, user *models.User, grant *models.AccessGrant) bool {
	for _, id := range grant.UserIDs {
		if id == user.ID {
			return true
		}
	}

	if len(grant.GroupIDs) == 0 {
		return false
	}

	memberOf, err := e.memberGroupIDs(ctx, user.ID)
	if err != nil {
		e.logger.Error("membership lookup failed, denying access",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return false
	}

	for _, granted := range grant.GroupIDs {
		for _, id := range memberOf {
			if id == granted {
				return true
			}
		}
	}
	return false
}

func (e *Engine) memberGroupIDs(ctx context.Context, userID string) ([]string, error) {
	if e.cache != nil {
		if ids, ok := e.cache.Get(userID); ok {
			return ids, nil
		}
	}

	groups, err := e.groups.GetByMemberID(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	if e.cache != nil {
		e.cache.Set(userID, ids)
	}
	return ids, nil
}

// CanManageGroup reports whether user may manage group. Admins always
// can; department managers can for groups of their own department, or
// groups they manage or created; everyone else only for groups they
// own. Department affiliation is the primary axis: a group with the
// right department but a different designated manager is still
// manageable by any manager of that department.
func (e *Engine) CanManageGroup(user *models.User, group *models.Group) bool {
	if user.IsAdmin() {
		return true
	}

	if user.IsDepartmentManager() {
		if group.DepartmentID() != "" && group.DepartmentID() == user.DepartmentID() {
			return true
		}
		if group.ManagedBy != nil && *group.ManagedBy == user.ID {
			return true
		}
		if group.CreatedBy != nil && *group.CreatedBy == user.ID {
			return true
		}
	}

	return group.OwnerID == user.ID
}

// CanAddMember reports whether manager may add target to group.
// Management rights are required first; department managers may then
// only add users from their own department, while admins are
// unrestricted.
func (e *Engine) CanAddMember(manager, target *models.User, group *models.Group) bool {
	if !e.CanManageGroup(manager, group) {
		return false
	}

	switch manager.Role {
	case models.RoleDepartmentManager:
		return target.Department != nil && manager.Department != nil &&
			*target.Department == *manager.Department
	case models.RoleAdmin:
		return true
	}
	return false
}

// AccessibleGroups returns the groups visible to user: all of them for
// admins, the department's groups for department managers (none when
// the manager has no department, a deliberate fail-closed default),
// and joined groups for ordinary users.
func (e *Engine) AccessibleGroups(ctx context.Context, user *models.User) ([]*models.Group, error) {
	switch user.Role {
	case models.RoleAdmin:
		return e.groups.GetAll(ctx)
	case models.RoleDepartmentManager:
		if user.Department == nil || *user.Department == "" {
			return []*models.Group{}, nil
		}
		return e.groups.GetByDepartment(ctx, *user.Department)
	default:
		return e.groups.GetByMemberID(ctx, user.ID)
	}
}

func resourceType(resource models.Resource) string {
	switch resource.(type) {
	case *models.Group:
		return "group"
	case *models.KnowledgeBase:
		return "knowledge_base"
	}
	return "resource"
}
