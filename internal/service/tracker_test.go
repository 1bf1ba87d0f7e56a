package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SiteGenerator/internal/models"
)

func TestTracker_CompleteOnce(t *testing.T) {
	clock := newClock()
	sites := newMemSites()
	tr := NewTracker(sites, clock)
	ctx := context.Background()
	owner := int64(7)

	site, err := tr.Open(ctx, "a landing page for a bakery", &owner)
	require.NoError(t, err)
	assert.Equal(t, models.SiteStatusPending, site.Status)

	clock.Advance(3500 * time.Millisecond)
	require.NoError(t, tr.Complete(ctx, site, "sites/a.zip", "<html></html>"))

	stored := sites.get(site.ID)
	assert.Equal(t, models.SiteStatusCompleted, stored.Status)
	require.NotNil(t, stored.DurationSeconds)
	assert.InDelta(t, 3.5, *stored.DurationSeconds, 0.001)
	assert.Equal(t, "sites/a.zip", stored.ArtifactKey)

	assert.ErrorIs(t, tr.Complete(ctx, site, "sites/b.zip", "x"), ErrInvalidTransition)
	assert.ErrorIs(t, tr.Fail(ctx, site), ErrInvalidTransition)
	assert.Equal(t, "sites/a.zip", sites.get(site.ID).ArtifactKey)
}

func TestTracker_StaleCopyCannotOverwriteTerminalRecord(t *testing.T) {
	clock := newClock()
	sites := newMemSites()
	tr := NewTracker(sites, clock)
	ctx := context.Background()

	site, err := tr.Open(ctx, "a portfolio for a photographer", nil)
	require.NoError(t, err)
	stale := *site

	require.NoError(t, tr.Fail(ctx, site))
	assert.ErrorIs(t, tr.Complete(ctx, &stale, "k", "code"), ErrInvalidTransition)
	assert.Equal(t, models.SiteStatusFailed, sites.get(site.ID).Status)
}

func TestTracker_RecordDownloadInAnyState(t *testing.T) {
	sites := newMemSites()
	tr := NewTracker(sites, newClock())
	ctx := context.Background()

	site, err := tr.Open(ctx, "a page for a dentist office", nil)
	require.NoError(t, err)
	require.NoError(t, tr.RecordDownload(ctx, site))
	require.NoError(t, tr.Fail(ctx, site))
	require.NoError(t, tr.RecordDownload(ctx, site))

	assert.Equal(t, 2, site.DownloadCount)
	assert.Equal(t, 2, sites.get(site.ID).DownloadCount)
}

func TestTracker_SweepAbandoned(t *testing.T) {
	clock := newClock()
	sites := newMemSites()
	tr := NewTracker(sites, clock)
	ctx := context.Background()

	old, err := tr.Open(ctx, "an abandoned generation request", nil)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	fresh, err := tr.Open(ctx, "a generation that is still running", nil)
	require.NoError(t, err)

	n, err := tr.SweepAbandoned(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	swept := sites.get(old.ID)
	assert.Equal(t, models.SiteStatusFailed, swept.Status)
	require.NotNil(t, swept.DurationSeconds)
	assert.InDelta(t, (20 * time.Minute).Seconds(), *swept.DurationSeconds, 0.001)
	assert.Equal(t, models.SiteStatusPending, sites.get(fresh.ID).Status)
}

func TestCanAccess(t *testing.T) {
	owner := int64(1)
	owned := &models.GeneratedSite{UserID: &owner}
	anonymous := &models.GeneratedSite{}

	assert.True(t, CanAccess(owned, &models.User{ID: 1}))
	assert.False(t, CanAccess(owned, &models.User{ID: 2}))
	assert.True(t, CanAccess(owned, &models.User{ID: 2, IsStaff: true}))
	assert.False(t, CanAccess(owned, nil))
	assert.True(t, CanAccess(anonymous, nil))
	assert.True(t, CanAccess(anonymous, &models.User{ID: 2}))
}
