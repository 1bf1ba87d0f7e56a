package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/SiteGenerator/internal/models"
)

type SuggestionRepository struct {
	db *sql.DB
}

func NewSuggestionRepository(db *sql.DB) *SuggestionRepository {
	return &SuggestionRepository{db: db}
}

const suggestionColumns = `id, user_id, name, email, suggestion_type, title, description, priority, status,
COALESCE(admin_notes, ''), created_at, updated_at`

func scanSuggestion(row interface{ Scan(...any) error }) (*models.Suggestion, error) {
	var s models.Suggestion
	var userID sql.NullInt64
	if err := row.Scan(&s.ID, &userID, &s.Name, &s.Email, &s.Type, &s.Title, &s.Description, &s.Priority,
		&s.Status, &s.AdminNotes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	return &s, nil
}

func (r *SuggestionRepository) Create(ctx context.Context, s *models.Suggestion) error {
	const query = `
INSERT INTO suggestions (user_id, name, email, suggestion_type, title, description, priority, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, s.UserID, s.Name, s.Email, s.Type, s.Title, s.Description, s.Priority, s.Status)
	if err != nil {
		return fmt.Errorf("create suggestion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("suggestion last insert id: %w", err)
	}
	s.ID = id
	return nil
}

func (r *SuggestionRepository) GetByID(ctx context.Context, id int64) (*models.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE id = ?`
	s, err := scanSuggestion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return s, nil
}

// List returns suggestions newest first, optionally filtered by status.
func (r *SuggestionRepository) List(ctx context.Context, status models.SuggestionStatus, limit int) ([]models.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []models.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion list: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SuggestionRepository) UpdateStatus(ctx context.Context, id int64, status models.SuggestionStatus, notes string) (*models.Suggestion, error) {
	const query = `
UPDATE suggestions SET status = ?, admin_notes = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, notes, id); err != nil {
		return nil, fmt.Errorf("update suggestion: %w", err)
	}
	return r.GetByID(ctx, id)
}
