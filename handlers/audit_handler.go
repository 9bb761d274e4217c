package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/utils"
)

// AuditHandler exposes audit log queries to administrators
type AuditHandler struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(repo repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		repo:   repo,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/audit/logs (admin only).
// Filter by ?actor_id= or ?action=; exactly one filter is required.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	actorID := r.URL.Query().Get("actor_id")
	action := r.URL.Query().Get("action")

	var (
		logs []*models.AuditLog
		err  error
	)
	switch {
	case actorID != "":
		logs, err = h.repo.GetByActorID(r.Context(), actorID, limit, offset)
	case action != "":
		logs, err = h.repo.GetByAction(r.Context(), models.AuditAction(action), limit, offset)
	default:
		_ = utils.WriteBadRequest(w, "actor_id or action query parameter is required", nil)
		return
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}
