package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SiteGenerator/internal/models"
)

var suggestionRowColumns = []string{
	"id", "user_id", "name", "email", "suggestion_type", "title", "description", "priority", "status",
	"admin_notes", "created_at", "updated_at",
}

func TestSuggestionRepository_CreateAnonymous(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSuggestionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO suggestions")).
		WithArgs(nil, "Ann", "ann@example.com", "feature", "Dark mode", "Please", "medium", models.SuggestionPending).
		WillReturnResult(sqlmock.NewResult(8, 1))

	s := &models.Suggestion{
		Name: "Ann", Email: "ann@example.com", Type: "feature", Title: "Dark mode",
		Description: "Please", Priority: "medium", Status: models.SuggestionPending,
	}
	require.NoError(t, repo.Create(context.Background(), s))
	assert.Equal(t, int64(8), s.ID)
}

func TestSuggestionRepository_ListByStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSuggestionRepository(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM suggestions WHERE status = ? ORDER BY updated_at DESC, id DESC LIMIT ?")).
		WithArgs(models.SuggestionImplemented, 5).
		WillReturnRows(sqlmock.NewRows(suggestionRowColumns).
			AddRow(int64(3), int64(4), "Bo", "bo@example.com", "ui_ux", "Bigger buttons", "d", "low", "implemented", "shipped", now, now).
			AddRow(int64(2), nil, "Cy", "cy@example.com", "bug", "Broken zip", "d", "high", "implemented", "", now, now))

	out, err := repo.List(context.Background(), models.SuggestionImplemented, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].UserID)
	assert.Equal(t, int64(4), *out[0].UserID)
	assert.Equal(t, "shipped", out[0].AdminNotes)
	assert.Nil(t, out[1].UserID)
}

func TestSuggestionRepository_UpdateStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSuggestionRepository(db)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE suggestions SET status = ?")).
		WithArgs(models.SuggestionRejected, "", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM suggestions WHERE id = ?")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(suggestionRowColumns).
			AddRow(int64(3), nil, "Bo", "bo@example.com", "other", "t", "d", "low", "rejected", "", now, now))

	s, err := repo.UpdateStatus(context.Background(), 3, models.SuggestionRejected, "")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionRejected, s.Status)
}
