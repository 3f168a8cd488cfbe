package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gatherhq/messaging-api/internal/model"
	"github.com/gatherhq/messaging-api/internal/repository"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
)

type Service struct {
	repo repository.TemplateRepository
}

func NewService(repo repository.TemplateRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateTemplate(ctx context.Context, userID uuid.UUID, title, content string) (*model.Template, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.BadRequest("template content is required", nil)
	}
	if strings.TrimSpace(title) == "" {
		return nil, apperrors.BadRequest("template title is required", nil)
	}

	tmpl := &model.Template{
		ID:      uuid.New(),
		UserID:  userID,
		Title:   title,
		Content: content,
	}
	if err := s.repo.Create(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tmpl, nil
}

func (s *Service) GetTemplate(ctx context.Context, userID, id uuid.UUID) (*model.Template, error) {
	tmpl, err := s.repo.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("template", err)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tmpl.UserID != userID {
		return nil, apperrors.NotFound("template", nil)
	}
	return tmpl, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, userID, id uuid.UUID, title, content string) (*model.Template, error) {
	tmpl, err := s.GetTemplate(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.BadRequest("template content is required", nil)
	}

	tmpl.Title = title
	tmpl.Content = content
	if err := s.repo.Update(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return tmpl, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.GetTemplate(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, userID uuid.UUID) ([]*model.Template, error) {
	templates, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}
