package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/middleware"
	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/services/knowledge"
	"github.com/knowledgehub/knowledge-hub/utils"
)

// KnowledgeHandler handles knowledge base HTTP requests
type KnowledgeHandler struct {
	svc    *knowledge.Service
	logger *zap.Logger
}

// NewKnowledgeHandler creates a new KnowledgeHandler
func NewKnowledgeHandler(svc *knowledge.Service, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/knowledge.
// Returns the knowledge bases the caller can read through ownership or
// an explicit grant. Pass ?action=write to filter by write access.
func (h *KnowledgeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	action := models.ActionRead
	if r.URL.Query().Get("action") == string(models.ActionWrite) {
		action = models.ActionWrite
	}

	bases, err := h.svc.ListForUser(r.Context(), user, action)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if bases == nil {
		bases = []*models.KnowledgeBase{}
	}
	_ = utils.WriteOK(w, bases)
}

// HandleCreate handles POST /api/v1/knowledge
func (h *KnowledgeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var form knowledge.CreateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&form); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	kb, err := h.svc.Create(r.Context(), user, form)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, kb)
}

// HandleGet handles GET /api/v1/knowledge/{id}
func (h *KnowledgeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	kb, err := h.svc.Get(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, kb)
}

// HandleUpdate handles PUT /api/v1/knowledge/{id}
func (h *KnowledgeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var form knowledge.UpdateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&form); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	kb, err := h.svc.Update(r.Context(), user, chi.URLParam(r, "id"), form)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, kb)
}

// HandleDelete handles DELETE /api/v1/knowledge/{id}
func (h *KnowledgeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	if err := h.svc.Delete(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}
