package service

import (
	"context"
	"strings"

	"github.com/digkill/SiteGenerator/internal/models"
)

const implementedShowcaseLimit = 5

// SuggestionStore persists user feedback.
type SuggestionStore interface {
	Create(ctx context.Context, s *models.Suggestion) error
	GetByID(ctx context.Context, id int64) (*models.Suggestion, error)
	List(ctx context.Context, status models.SuggestionStatus, limit int) ([]models.Suggestion, error)
	UpdateStatus(ctx context.Context, id int64, status models.SuggestionStatus, notes string) (*models.Suggestion, error)
}

type SuggestionService struct {
	repo SuggestionStore
}

func NewSuggestionService(repo SuggestionStore) *SuggestionService {
	return &SuggestionService{repo: repo}
}

type SuggestionInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Type        string `json:"suggestion_type" validate:"omitempty,oneof=feature improvement bug ui_ux other"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

// Submit stores a suggestion. user may be nil for anonymous feedback.
func (s *SuggestionService) Submit(ctx context.Context, user *models.User, in SuggestionInput) (*models.Suggestion, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Type == "" {
		in.Type = "feature"
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
	if err := validate.Struct(in); err != nil {
		return nil, NewAppErrorWithDetails(CodeValidation, "Please fill in all required fields.", ErrValidation,
			map[string]any{"fields": fieldErrors(err)})
	}

	suggestion := &models.Suggestion{
		Name:        in.Name,
		Email:       in.Email,
		Type:        in.Type,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      models.SuggestionPending,
	}
	if user != nil {
		suggestion.UserID = &user.ID
	}
	if err := s.repo.Create(ctx, suggestion); err != nil {
		return nil, err
	}
	return suggestion, nil
}

// Implemented returns the latest implemented suggestions for the public showcase.
func (s *SuggestionService) Implemented(ctx context.Context) ([]models.Suggestion, error) {
	return s.repo.List(ctx, models.SuggestionImplemented, implementedShowcaseLimit)
}

func (s *SuggestionService) List(ctx context.Context, status models.SuggestionStatus, limit int) ([]models.Suggestion, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, status, limit)
}

func (s *SuggestionService) UpdateStatus(ctx context.Context, id int64, status models.SuggestionStatus, notes string) (*models.Suggestion, error) {
	switch status {
	case models.SuggestionPending, models.SuggestionInProgress, models.SuggestionImplemented, models.SuggestionRejected:
	default:
		return nil, NewAppError(CodeValidation, "Unknown suggestion status.", ErrValidation)
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, NewAppError(CodeNotFound, "Suggestion not found.", ErrNotFound)
	}
	return s.repo.UpdateStatus(ctx, id, status, strings.TrimSpace(notes))
}
