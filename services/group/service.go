// Package group owns the group hierarchy: creation, attribution,
// department affiliation, and member-set reconciliation.
//
// Failure semantics follow the storage-normalization contract: storage
// errors are logged and surfaced as nil/false results, not propagated.
// Get returns nil for both "not found" and "storage failure"; callers
// must treat nil as deny, never as safe-to-proceed.
package group

import (
	"context"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
)

// MembershipInvalidator drops cached membership state for a user after
// a mutation. Satisfied by the policy engine's membership cache.
type MembershipInvalidator interface {
	Invalidate(userID string)
}

// CreateForm carries the fields for creating a group
type CreateForm struct {
	Name        string                `json:"name" validate:"required,min=1,max=255"`
	Description string                `json:"description" validate:"max=4096"`
	Permissions *models.AccessControl `json:"permissions,omitempty"`
	UserIDs     []string              `json:"user_ids,omitempty"`
}

// UpdateForm carries a partial update: nil fields are left unchanged
type UpdateForm struct {
	Name        *string               `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string               `json:"description,omitempty" validate:"omitempty,max=4096"`
	Permissions *models.AccessControl `json:"permissions,omitempty"`
	UserIDs     []string              `json:"user_ids,omitempty"`
}

// Service implements the group hierarchy operations
type Service struct {
	groups repositories.GroupRepository
	txm    repositories.TransactionManager
	cache  MembershipInvalidator
	logger *zap.Logger
}

// NewService creates a new group Service
func NewService(groups repositories.GroupRepository, txm repositories.TransactionManager, cache MembershipInvalidator, logger *zap.Logger) *Service {
	return &Service{
		groups: groups,
		txm:    txm,
		cache:  cache,
		logger: logger,
	}
}

// Create creates a group owned by ownerID with a deduplicated member
// set. Returns nil on storage failure.
func (s *Service) Create(ctx context.Context, ownerID string, form CreateForm) *models.Group {
	group := models.NewGroup(ownerID, form.Name, form.Description, form.UserIDs)
	group.Permissions = form.Permissions

	if err := s.groups.Create(ctx, group); err != nil {
		s.logger.Error("failed to create group",
			zap.String("owner_id", ownerID),
			zap.String("name", form.Name),
			zap.Error(err))
		return nil
	}

	s.invalidateMembers(group.UserIDs)
	return group
}

// CreateForDepartment creates a group through the department-manager
// path: the manager is recorded as creator and manager, and the group
// is attributed to the department.
func (s *Service) CreateForDepartment(ctx context.Context, managerID, department string, form CreateForm) *models.Group {
	group := models.NewGroup(managerID, form.Name, form.Description, form.UserIDs)
	group.Permissions = form.Permissions
	group.CreatedBy = &managerID
	group.ManagedBy = &managerID
	group.Department = &department

	if err := s.groups.Create(ctx, group); err != nil {
		s.logger.Error("failed to create department group",
			zap.String("manager_id", managerID),
			zap.String("department", department),
			zap.Error(err))
		return nil
	}

	s.invalidateMembers(group.UserIDs)
	return group
}

// Get retrieves a group by id. Returns nil for both a missing group
// and a storage failure.
func (s *Service) Get(ctx context.Context, id string) *models.Group {
	group, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	return group
}

// List returns all groups, most recently updated first
func (s *Service) List(ctx context.Context) []*models.Group {
	groups, err := s.groups.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to list groups", zap.Error(err))
		return nil
	}
	return groups
}

// Update merges non-nil form fields into the stored group and bumps
// its updated timestamp. Returns nil when the group does not exist or
// storage fails.
func (s *Service) Update(ctx context.Context, id string, form UpdateForm) *models.Group {
	var updated *models.Group
	var previous []string

	err := s.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		group, err := s.groups.GetByID(ctx, id)
		if err != nil {
			return err
		}
		previous = append([]string(nil), group.UserIDs...)

		if form.Name != nil {
			group.Name = *form.Name
		}
		if form.Description != nil {
			group.Description = *form.Description
		}
		if form.Permissions != nil {
			group.Permissions = form.Permissions
		}
		if form.UserIDs != nil {
			group.UserIDs = models.DedupeIDs(form.UserIDs)
		}
		group.Touch()

		if err := s.groups.Update(ctx, group); err != nil {
			return err
		}
		updated = group
		return nil
	})

	if err != nil {
		s.logger.Error("failed to update group",
			zap.String("group_id", id),
			zap.Error(err))
		return nil
	}

	// Members removed by the update must lose cached group access too,
	// so invalidate the old and new sets together.
	s.invalidateMembers(models.DedupeIDs(append(previous, updated.UserIDs...)))
	return updated
}

// Delete removes a group by id
func (s *Service) Delete(ctx context.Context, id string) bool {
	group, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return false
	}

	if err := s.groups.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete group",
			zap.String("group_id", id),
			zap.Error(err))
		return false
	}

	s.invalidateMembers(group.UserIDs)
	return true
}

// DeleteAll removes every group
func (s *Service) DeleteAll(ctx context.Context) bool {
	if err := s.groups.DeleteAll(ctx); err != nil {
		s.logger.Error("failed to delete all groups", zap.Error(err))
		return false
	}
	return true
}

// RemoveUserFromAllGroups removes userID from the member set of every
// group containing it. Idempotent: a second call finds nothing to
// remove and succeeds.
func (s *Service) RemoveUserFromAllGroups(ctx context.Context, userID string) bool {
	groups, err := s.groups.GetByMemberID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load groups for member removal",
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}

	for _, g := range groups {
		if !s.removeMemberTx(ctx, g.ID, userID) {
			return false
		}
	}

	s.invalidateMembers([]string{userID})
	return true
}

// SyncUserGroupsByNames reconciles userID's memberships against the
// named target set: the user is removed from every joined group whose
// name is not in names and added to every named group not yet joined.
// Idempotent and duplicate-free.
func (s *Service) SyncUserGroupsByNames(ctx context.Context, userID string, names []string) bool {
	target, err := s.groups.GetByNames(ctx, names)
	if err != nil {
		s.logger.Error("failed to resolve target groups",
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}
	targetIDs := make(map[string]struct{}, len(target))
	for _, g := range target {
		targetIDs[g.ID] = struct{}{}
	}

	current, err := s.groups.GetByMemberID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load current memberships",
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}

	for _, g := range current {
		if _, keep := targetIDs[g.ID]; !keep {
			if !s.removeMemberTx(ctx, g.ID, userID) {
				return false
			}
		}
	}

	for _, g := range target {
		if !g.HasMember(userID) {
			if !s.addMemberTx(ctx, g.ID, userID) {
				return false
			}
		}
	}

	s.invalidateMembers([]string{userID})
	return true
}

// AddMember adds userID to the group's member set, bumping the updated
// timestamp. A no-op when already a member.
func (s *Service) AddMember(ctx context.Context, groupID, userID string) bool {
	if !s.addMemberTx(ctx, groupID, userID) {
		return false
	}
	s.invalidateMembers([]string{userID})
	return true
}

// RemoveMember removes userID from the group's member set
func (s *Service) RemoveMember(ctx context.Context, groupID, userID string) bool {
	if !s.removeMemberTx(ctx, groupID, userID) {
		return false
	}
	s.invalidateMembers([]string{userID})
	return true
}

// GroupsByMember returns all groups containing userID
func (s *Service) GroupsByMember(ctx context.Context, userID string) []*models.Group {
	groups, err := s.groups.GetByMemberID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load groups by member",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}
	return groups
}

// GroupsByDepartment returns all groups of a department
func (s *Service) GroupsByDepartment(ctx context.Context, department string) []*models.Group {
	groups, err := s.groups.GetByDepartment(ctx, department)
	if err != nil {
		s.logger.Error("failed to load groups by department",
			zap.String("department", department),
			zap.Error(err))
		return nil
	}
	return groups
}

// GroupsManagedBy returns all groups managed by userID
func (s *Service) GroupsManagedBy(ctx context.Context, userID string) []*models.Group {
	groups, err := s.groups.GetByManagedBy(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load managed groups",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}
	return groups
}

// addMemberTx performs the read-modify-write for one group inside a
// transaction. Per-group atomicity is the concurrency contract;
// concurrent syncs of the same group may still lose an update.
func (s *Service) addMemberTx(ctx context.Context, groupID, userID string) bool {
	err := s.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		group, err := s.groups.GetByID(ctx, groupID)
		if err != nil {
			return err
		}
		if !group.AddMember(userID) {
			return nil
		}
		group.Touch()
		return s.groups.UpdateMembers(ctx, group.ID, group.UserIDs, group.UpdatedAt)
	})

	if err != nil {
		s.logger.Error("failed to add member",
			zap.String("group_id", groupID),
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *Service) removeMemberTx(ctx context.Context, groupID, userID string) bool {
	err := s.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		group, err := s.groups.GetByID(ctx, groupID)
		if err != nil {
			return err
		}
		if !group.RemoveMember(userID) {
			return nil
		}
		group.Touch()
		return s.groups.UpdateMembers(ctx, group.ID, group.UserIDs, group.UpdatedAt)
	})

	if err != nil {
		s.logger.Error("failed to remove member",
			zap.String("group_id", groupID),
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}
	return true
}

func (s *Service) invalidateMembers(userIDs []string) {
	if s.cache == nil {
		return
	}
	for _, id := range userIDs {
		s.cache.Invalidate(id)
	}
}
