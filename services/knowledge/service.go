// Package knowledge manages knowledge bases: shared resources governed
// by the ownership/ACL model. Listing is privacy-compliant by default:
// even admins see only what they own or were explicitly granted, and
// legacy-override access never widens list results.
package knowledge

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
	"github.com/knowledgehub/knowledge-hub/services"
	"github.com/knowledgehub/knowledge-hub/services/policy"
)

// CreateForm carries the fields for creating a knowledge base
type CreateForm struct {
	Name          string                `json:"name" validate:"required,min=1,max=255"`
	Description   string                `json:"description" validate:"max=4096"`
	Data          json.RawMessage       `json:"data,omitempty"`
	AccessControl *models.AccessControl `json:"access_control,omitempty"`
}

// UpdateForm carries a partial update: nil fields are left unchanged
type UpdateForm struct {
	Name          *string               `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description   *string               `json:"description,omitempty" validate:"omitempty,max=4096"`
	Data          json.RawMessage       `json:"data,omitempty"`
	AccessControl *models.AccessControl `json:"access_control,omitempty"`
}

// Service manages knowledge bases, routing every access through the
// policy engine.
type Service struct {
	repo   repositories.KnowledgeRepository
	engine *policy.Engine
	logger *zap.Logger
}

// NewService creates a new knowledge Service
func NewService(repo repositories.KnowledgeRepository, engine *policy.Engine, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		logger: logger,
	}
}

// Create creates a knowledge base owned by the user
func (s *Service) Create(ctx context.Context, owner *models.User, form CreateForm) (*models.KnowledgeBase, error) {
	kb := models.NewKnowledgeBase(owner.ID, form.Name, form.Description, form.AccessControl)
	kb.Data = form.Data

	if err := s.repo.Create(ctx, kb); err != nil {
		s.logger.Error("failed to create knowledge base",
			zap.String("owner_id", owner.ID),
			zap.Error(err))
		return nil, services.WrapInternal("failed to create knowledge base", err)
	}
	return kb, nil
}

// Get returns the knowledge base when the user may read it. A missing
// record and a storage failure both surface as not-found; callers must
// treat that as deny.
func (s *Service) Get(ctx context.Context, user *models.User, id string) (*models.KnowledgeBase, error) {
	kb, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, services.ErrKnowledgeNotFound
	}

	if !s.engine.CanRead(ctx, user, kb) {
		return nil, services.ErrAccessProhibited
	}
	return kb, nil
}

// Update merges non-nil form fields into the knowledge base when the
// user may write it
func (s *Service) Update(ctx context.Context, user *models.User, id string, form UpdateForm) (*models.KnowledgeBase, error) {
	kb, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, services.ErrKnowledgeNotFound
	}

	if !s.engine.CanWrite(ctx, user, kb) {
		return nil, services.ErrAccessProhibited
	}

	if form.Name != nil {
		kb.Name = *form.Name
	}
	if form.Description != nil {
		kb.Description = *form.Description
	}
	if form.Data != nil {
		kb.Data = form.Data
	}
	if form.AccessControl != nil {
		kb.AccessControl = form.AccessControl
	}
	kb.Touch()

	if err := s.repo.Update(ctx, kb); err != nil {
		s.logger.Error("failed to update knowledge base",
			zap.String("knowledge_id", id),
			zap.Error(err))
		return nil, services.WrapInternal("failed to update knowledge base", err)
	}
	return kb, nil
}

// Delete removes the knowledge base when the user may write it
func (s *Service) Delete(ctx context.Context, user *models.User, id string) error {
	kb, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return services.ErrKnowledgeNotFound
	}

	if !s.engine.CanWrite(ctx, user, kb) {
		return services.ErrAccessProhibited
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete knowledge base",
			zap.String("knowledge_id", id),
			zap.Error(err))
		return services.WrapInternal("failed to delete knowledge base", err)
	}
	return nil
}

// ListForUser returns the knowledge bases the user may perform action
// on through ownership or explicit grant. The legacy admin override is
// deliberately excluded here: it grants point access, never discovery.
func (s *Service) ListForUser(ctx context.Context, user *models.User, action models.AccessAction) ([]*models.KnowledgeBase, error) {
	// Owned bases need no policy decision: ownership grants every action.
	accessible, err := s.repo.GetByOwnerID(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to list owned knowledge bases",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return nil, services.WrapInternal("failed to list knowledge bases", err)
	}
	if accessible == nil {
		accessible = make([]*models.KnowledgeBase, 0)
	}

	all, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to list knowledge bases", zap.Error(err))
		return nil, services.WrapInternal("failed to list knowledge bases", err)
	}

	for _, kb := range all {
		if kb.OwnerID == user.ID {
			continue
		}
		decision := s.engine.Decide(ctx, user, kb, action)
		if decision.Allowed && decision.Reason != policy.ReasonLegacyOverride {
			accessible = append(accessible, kb)
		}
	}
	return accessible, nil
}
