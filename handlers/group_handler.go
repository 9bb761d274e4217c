package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services/group"
	"github.com/knowledgehub/knowledge-hub/services/policy"
	"github.com/knowledgehub/knowledge-hub/utils"
)

// MemberForm identifies a user to add to a group
type MemberForm struct {
	UserID string `json:"user_id" validate:"required"`
}

// DepartmentStats summarizes a department's groups and staff
type DepartmentStats struct {
	Department  string `json:"department"`
	GroupCount  int    `json:"group_count"`
	MemberCount int    `json:"member_count"`
	StaffCount  int    `json:"staff_count"`
}

// GroupHandler handles group management HTTP requests
type GroupHandler struct {
	svc    *group.Service
	users  repositories.UserRepository
	engine *policy.Engine
	audit  policy.AuditRecorder
	logger *zap.Logger
}

// NewGroupHandler creates a new GroupHandler
func NewGroupHandler(svc *group.Service, users repositories.UserRepository, engine *policy.Engine, audit policy.AuditRecorder, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		svc:    svc,
		users:  users,
		engine: engine,
		audit:  audit,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/groups.
// Returns the groups visible to the caller per their role.
func (h *GroupHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	groups, err := h.engine.AccessibleGroups(r.Context(), user)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	_ = utils.WriteOK(w, groups)
}

// HandleCreate handles POST /api/v1/groups.
// Admins create unscoped groups; department managers create groups
// scoped and attributed to their own department.
func (h *GroupHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var form group.CreateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&form); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var created *models.Group
	switch {
	case user.IsAdmin():
		created = h.svc.Create(r.Context(), user.ID, form)
	case user.IsDepartmentManager():
		if user.DepartmentID() == "" {
			_ = utils.WriteForbidden(w, "Department manager without a department cannot create groups")
			return
		}
		created = h.svc.CreateForDepartment(r.Context(), user.ID, user.DepartmentID(), form)
	default:
		_ = utils.WriteForbidden(w, "Insufficient permissions")
		return
	}

	if created == nil {
		_ = utils.WriteBadRequest(w, "Could not create group", nil)
		return
	}

	h.record(user, models.AuditActionGroupCreated, created.ID)
	_ = utils.WriteCreated(w, created)
}

// HandleGet handles GET /api/v1/groups/{id}.
// Visible to group managers and members.
func (h *GroupHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	g := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if g == nil {
		_ = utils.WriteNotFound(w, "")
		return
	}

	if !h.engine.CanManageGroup(user, g) && !g.HasMember(user.ID) {
		_ = utils.WriteForbidden(w, "")
		return
	}
	_ = utils.WriteOK(w, g)
}

// HandleUpdate handles PUT /api/v1/groups/{id}
func (h *GroupHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	id := chi.URLParam(r, "id")
	g := h.svc.Get(r.Context(), id)
	if g == nil {
		_ = utils.WriteNotFound(w, "")
		return
	}
	if !h.engine.CanManageGroup(user, g) {
		_ = utils.WriteForbidden(w, "Not authorized to manage this group")
		return
	}

	var form group.UpdateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&form); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	updated := h.svc.Update(r.Context(), id, form)
	if updated == nil {
		_ = utils.WriteBadRequest(w, "Could not update group", nil)
		return
	}

	h.record(user, models.AuditActionGroupUpdated, id)
	_ = utils.WriteOK(w, updated)
}

// HandleDelete handles DELETE /api/v1/groups/{id}
func (h *GroupHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	id := chi.URLParam(r, "id")
	g := h.svc.Get(r.Context(), id)
	if g == nil {
		_ = utils.WriteNotFound(w, "")
		return
	}
	if !h.engine.CanManageGroup(user, g) {
		_ = utils.WriteForbidden(w, "Not authorized to manage this group")
		return
	}

	if !h.svc.Delete(r.Context(), id) {
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.record(user, models.AuditActionGroupDeleted, id)
	utils.WriteNoContent(w)
}

// HandleAddMember handles POST /api/v1/groups/{id}/members.
// The caller must be able to manage the group and, for department
// managers, the target user must belong to the same department.
func (h *GroupHandler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	id := chi.URLParam(r, "id")
	g := h.svc.Get(r.Context(), id)
	if g == nil {
		_ = utils.WriteNotFound(w, "")
		return
	}

	var form MemberForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&form); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	target, err := h.users.GetByID(r.Context(), form.UserID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if !h.engine.CanAddMember(user, target, g) {
		_ = utils.WriteForbidden(w, "Not authorized to add this user to the group")
		return
	}

	if !h.svc.AddMember(r.Context(), id, target.ID) {
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.record(user, models.AuditActionMemberAdded, id)
	_ = utils.WriteOK(w, h.svc.Get(r.Context(), id))
}

// HandleRemoveMember handles DELETE /api/v1/groups/{id}/members/{userID}
func (h *GroupHandler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	id := chi.URLParam(r, "id")
	g := h.svc.Get(r.Context(), id)
	if g == nil {
		_ = utils.WriteNotFound(w, "")
		return
	}
	if !h.engine.CanManageGroup(user, g) {
		_ = utils.WriteForbidden(w, "Not authorized to manage this group")
		return
	}

	if !h.svc.RemoveMember(r.Context(), id, chi.URLParam(r, "userID")) {
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.record(user, models.AuditActionMemberRemoved, id)
	utils.WriteNoContent(w)
}

// HandleManaged handles GET /api/v1/groups/managed.
// Lists groups the caller explicitly manages.
func (h *GroupHandler) HandleManaged(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	groups := h.svc.GroupsManagedBy(r.Context(), user.ID)
	if groups == nil {
		groups = []*models.Group{}
	}
	_ = utils.WriteOK(w, groups)
}

// HandleDepartmentStats handles GET /api/v1/groups/stats/department.
// Department managers get their own department; admins may select one
// with ?department=.
func (h *GroupHandler) HandleDepartmentStats(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var department string
	switch {
	case user.IsAdmin():
		department = r.URL.Query().Get("department")
		if department == "" {
			_ = utils.WriteBadRequest(w, "department query parameter is required", nil)
			return
		}
	case user.IsDepartmentManager():
		department = user.DepartmentID()
		if department == "" {
			_ = utils.WriteForbidden(w, "No department assigned")
			return
		}
	default:
		_ = utils.WriteForbidden(w, "Insufficient permissions")
		return
	}

	groups := h.svc.GroupsByDepartment(r.Context(), department)
	members := make(map[string]struct{})
	for _, g := range groups {
		for _, id := range g.UserIDs {
			members[id] = struct{}{}
		}
	}

	staff, err := h.users.GetByDepartment(r.Context(), department)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, DepartmentStats{
		Department:  department,
		GroupCount:  len(groups),
		MemberCount: len(members),
		StaffCount:  len(staff),
	})
}

func (h *GroupHandler) record(actor *models.User, action models.AuditAction, groupID string) {
	if h.audit == nil {
		return
	}
	h.audit.Record(models.NewAuditLog(actor.ID, actor.Role, action, "group").WithResource(groupID))
}
