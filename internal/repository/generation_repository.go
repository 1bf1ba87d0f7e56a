package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/SiteGenerator/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// SiteFilter narrows a user's site listing.
type SiteFilter struct {
	UserID int64
	Status models.SiteStatus
	Search string
	Limit  int
	Offset int
}

const siteColumns = `id, user_id, prompt, status, COALESCE(generated_code, ''), COALESCE(artifact_key, ''),
duration_seconds, download_count, created_at, completed_at`

func scanSite(row interface{ Scan(...any) error }) (*models.GeneratedSite, error) {
	var s models.GeneratedSite
	var userID sql.NullInt64
	var duration sql.NullFloat64
	var completed sql.NullTime
	if err := row.Scan(&s.ID, &userID, &s.Prompt, &s.Status, &s.GeneratedCode, &s.ArtifactKey,
		&duration, &s.DownloadCount, &s.CreatedAt, &completed); err != nil {
		return nil, err
	}
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	if duration.Valid {
		s.DurationSeconds = &duration.Float64
	}
	if completed.Valid {
		t := completed.Time.UTC()
		s.CompletedAt = &t
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *GenerationRepository) Create(ctx context.Context, site *models.GeneratedSite) error {
	const query = `
INSERT INTO generated_sites (user_id, prompt, status, created_at)
VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, site.UserID, site.Prompt, site.Status, site.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert generated site: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	site.ID = id
	return nil
}

func (r *GenerationRepository) GetByID(ctx context.Context, id int64) (*models.GeneratedSite, error) {
	query := `SELECT ` + siteColumns + ` FROM generated_sites WHERE id = ?`
	site, err := scanSite(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generated site: %w", err)
	}
	return site, nil
}

// Complete moves a pending record to completed. Returns false when the record was not pending.
func (r *GenerationRepository) Complete(ctx context.Context, site *models.GeneratedSite) (bool, error) {
	const query = `
UPDATE generated_sites
SET status = 'completed', generated_code = ?, artifact_key = ?, duration_seconds = ?, completed_at = ?
WHERE id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, site.GeneratedCode, site.ArtifactKey, site.DurationSeconds, site.CompletedAt, site.ID)
	if err != nil {
		return false, fmt.Errorf("complete generated site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return affected > 0, nil
}

// Fail moves a pending record to failed. Returns false when the record was not pending.
func (r *GenerationRepository) Fail(ctx context.Context, site *models.GeneratedSite) (bool, error) {
	const query = `
UPDATE generated_sites
SET status = 'failed', duration_seconds = ?, completed_at = ?
WHERE id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, site.DurationSeconds, site.CompletedAt, site.ID)
	if err != nil {
		return false, fmt.Errorf("fail generated site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *GenerationRepository) IncrementDownloads(ctx context.Context, id int64) error {
	const query = `UPDATE generated_sites SET download_count = download_count + 1 WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	return nil
}

func (r *GenerationRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM generated_sites WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete generated site: %w", err)
	}
	return nil
}

func buildSiteWhere(f SiteFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, "prompt LIKE ?")
		args = append(args, "%"+escapeLike(s)+"%")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListByUser returns one page of a user's sites (newest first) and the total match count.
func (r *GenerationRepository) ListByUser(ctx context.Context, f SiteFilter) ([]models.GeneratedSite, int, error) {
	where, args := buildSiteWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generated_sites`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count generated sites: %w", err)
	}

	query := `SELECT ` + siteColumns + ` FROM generated_sites` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list generated sites: %w", err)
	}
	defer rows.Close()

	var sites []models.GeneratedSite
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan generated site: %w", err)
		}
		sites = append(sites, *site)
	}
	return sites, total, rows.Err()
}

// ListRecent returns the newest sites across all users (admin view).
func (r *GenerationRepository) ListRecent(ctx context.Context, limit int) ([]models.GeneratedSite, error) {
	query := `SELECT ` + siteColumns + ` FROM generated_sites ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sites: %w", err)
	}
	defer rows.Close()

	var sites []models.GeneratedSite
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent site: %w", err)
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

// Stats aggregates counters over the same filter used by ListByUser.
func (r *GenerationRepository) Stats(ctx context.Context, f SiteFilter) (models.SiteStats, error) {
	where, args := buildSiteWhere(f)
	query := `
SELECT COUNT(*), COALESCE(SUM(status = 'completed'), 0), COALESCE(SUM(download_count), 0)
FROM generated_sites` + where
	var stats models.SiteStats
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Completed, &stats.TotalDownloads); err != nil {
		return models.SiteStats{}, fmt.Errorf("site stats: %w", err)
	}
	return stats, nil
}

func (r *GenerationRepository) CountCompletedSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `
SELECT COUNT(*) FROM generated_sites
WHERE user_id = ? AND status = 'completed' AND created_at >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count completed sites: %w", err)
	}
	return count, nil
}

// FailStalePending marks pending records created before cutoff as failed,
// recording how long each stayed open.
func (r *GenerationRepository) FailStalePending(ctx context.Context, cutoff, now time.Time) (int64, error) {
	const query = `
UPDATE generated_sites
SET status = 'failed', duration_seconds = TIMESTAMPDIFF(MICROSECOND, created_at, ?) / 1000000, completed_at = ?
WHERE status = 'pending' AND created_at < ?`
	res, err := r.db.ExecContext(ctx, query, now.UTC(), now.UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("fail stale pending sites: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rows affected: %w", err)
	}
	return affected, nil
}
