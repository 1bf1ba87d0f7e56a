package service

import (
	"context"
	"time"

	"github.com/digkill/SiteGenerator/internal/models"
)

// SiteStore persists generation records. Terminal transitions only apply to pending rows.
type SiteStore interface {
	Create(ctx context.Context, site *models.GeneratedSite) error
	Complete(ctx context.Context, site *models.GeneratedSite) (bool, error)
	Fail(ctx context.Context, site *models.GeneratedSite) (bool, error)
	IncrementDownloads(ctx context.Context, id int64) error
	FailStalePending(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// Tracker owns the pending -> completed | failed lifecycle of generation records.
type Tracker struct {
	store SiteStore
	clock Clock
}

func NewTracker(store SiteStore, clock Clock) *Tracker {
	return &Tracker{store: store, clock: clock}
}

func (t *Tracker) Open(ctx context.Context, prompt string, owner *int64) (*models.GeneratedSite, error) {
	site := &models.GeneratedSite{
		UserID:    owner,
		Prompt:    prompt,
		Status:    models.SiteStatusPending,
		CreatedAt: t.clock.Now(),
	}
	if err := t.store.Create(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

func (t *Tracker) Complete(ctx context.Context, site *models.GeneratedSite, artifactKey, code string) error {
	if site.Status != models.SiteStatusPending {
		return ErrInvalidTransition
	}
	now := t.clock.Now()
	duration := now.Sub(site.CreatedAt).Seconds()

	next := *site
	next.Status = models.SiteStatusCompleted
	next.ArtifactKey = artifactKey
	next.GeneratedCode = code
	next.DurationSeconds = &duration
	next.CompletedAt = &now

	ok, err := t.store.Complete(ctx, &next)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	*site = next
	return nil
}

func (t *Tracker) Fail(ctx context.Context, site *models.GeneratedSite) error {
	if site.Status != models.SiteStatusPending {
		return ErrInvalidTransition
	}
	now := t.clock.Now()
	duration := now.Sub(site.CreatedAt).Seconds()

	next := *site
	next.Status = models.SiteStatusFailed
	next.DurationSeconds = &duration
	next.CompletedAt = &now

	ok, err := t.store.Fail(ctx, &next)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	*site = next
	return nil
}

func (t *Tracker) RecordDownload(ctx context.Context, site *models.GeneratedSite) error {
	if err := t.store.IncrementDownloads(ctx, site.ID); err != nil {
		return err
	}
	site.DownloadCount++
	return nil
}

// SweepAbandoned fails pending records older than olderThan, e.g. left behind by a crash.
func (t *Tracker) SweepAbandoned(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := t.clock.Now()
	return t.store.FailStalePending(ctx, now.Add(-olderThan), now)
}

// CanAccess reports whether viewer may see or download the site. Anonymous
// records are reachable by anyone holding the id. viewer may be nil.
func CanAccess(site *models.GeneratedSite, viewer *models.User) bool {
	if site.UserID == nil {
		return true
	}
	if viewer == nil {
		return false
	}
	return viewer.IsStaff || viewer.ID == *site.UserID
}
