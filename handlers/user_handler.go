package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services/group"
	"github.com/knowledgehub/knowledge-hub/services/policy"
	"github.com/knowledgehub/knowledge-hub/utils"
)

// CreateUserRequest is the payload for provisioning a user
type CreateUserRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	Name       string  `json:"name" validate:"required,min=1,max=255"`
	Role       string  `json:"role" validate:"required,oneof=admin department_manager user"`
	Department *string `json:"department,omitempty"`
}

// UpdateUserRequest is the payload for updating a user. Omitted fields
// keep their current value.
type UpdateUserRequest struct {
	Name       *string  `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Role       *string  `json:"role,omitempty" validate:"omitempty,oneof=admin department_manager user"`
	Department *string  `json:"department,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

// UserHandler handles user administration HTTP requests
type UserHandler struct {
	users  repositories.UserRepository
	groups *group.Service
	audit  policy.AuditRecorder
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users repositories.UserRepository, groups *group.Service, audit policy.AuditRecorder, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		groups: groups,
		audit:  audit,
		logger: logger,
	}
}

// HandleGetMe handles GET /api/v1/users/me
func (h *UserHandler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	_ = utils.WriteOK(w, user)
}

// HandleList handles GET /api/v1/users (admin only, paginated)
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	users, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	_ = utils.WriteOK(w, users)
}

// HandleCreate handles POST /api/v1/users (admin only)
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	role, err := models.ParseUserRole(req.Role)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid role", nil)
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		Role:         role,
		Department:   req.Department,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.users.Create(r.Context(), user); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, user)
}

// HandleGet handles GET /api/v1/users/{id} (admin only)
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user)
}

// HandleUpdate handles PUT /api/v1/users/{id} (admin only).
// When the payload names groups, the user's memberships are reconciled
// to exactly that set.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Role != nil {
		role, err := models.ParseUserRole(*req.Role)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid role", nil)
			return
		}
		user.Role = role
	}
	if req.Department != nil {
		if *req.Department == "" {
			user.Department = nil
		} else {
			user.Department = req.Department
		}
	}
	user.UpdatedAt = time.Now().UTC()

	if err := h.users.Update(r.Context(), user); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if req.Groups != nil {
		if !h.groups.SyncUserGroupsByNames(r.Context(), user.ID, req.Groups) {
			h.logger.Warn("group membership sync incomplete",
				zap.String("user_id", user.ID))
		}
	}

	_ = utils.WriteOK(w, user)
}

// HandleDelete handles DELETE /api/v1/users/{id} (admin only).
// Membership rows referencing the user are removed first so group
// member sets never point at a deleted principal.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.users.GetByID(r.Context(), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if !h.groups.RemoveUserFromAllGroups(r.Context(), id) {
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if actor := middleware.GetUserFromContext(r.Context()); actor != nil && h.audit != nil {
		h.audit.Record(models.NewAuditLog(actor.ID, actor.Role, models.AuditActionUserDeleted, "user").
			WithResource(id))
	}
	utils.WriteNoContent(w)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
