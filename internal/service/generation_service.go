package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/digkill/SiteGenerator/internal/archive"
	"github.com/digkill/SiteGenerator/internal/metrics"
	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

const DashboardPageSize = 12

// SiteGenerator turns a prompt into site source code.
type SiteGenerator interface {
	GenerateSite(ctx context.Context, prompt string) (string, error)
}

// ArchiveStore keeps packaged site archives.
type ArchiveStore interface {
	Upload(ctx context.Context, siteID int64, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ProfileStore loads user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
}

// SiteQueries are the read and delete operations on generation records.
type SiteQueries interface {
	GetByID(ctx context.Context, id int64) (*models.GeneratedSite, error)
	ListByUser(ctx context.Context, f repository.SiteFilter) ([]models.GeneratedSite, int, error)
	Stats(ctx context.Context, f repository.SiteFilter) (models.SiteStats, error)
	CountCompletedSince(ctx context.Context, userID int64, since time.Time) (int, error)
	ListRecent(ctx context.Context, limit int) ([]models.GeneratedSite, error)
	Delete(ctx context.Context, id int64) error
}

type GenerationService struct {
	log             *slog.Logger
	clock           Clock
	tracker         *Tracker
	quota           *QuotaManager
	profiles        ProfileStore
	sites           SiteQueries
	generator       SiteGenerator
	archives        ArchiveStore
	metrics         *metrics.Metrics
	promptMinLength int
	pendingTimeout  time.Duration
}

type GenerationDeps struct {
	Tracker   *Tracker
	Quota     *QuotaManager
	Profiles  ProfileStore
	Sites     SiteQueries
	Generator SiteGenerator
	Archives  ArchiveStore
	Clock     Clock
	Metrics   *metrics.Metrics
}

func NewGenerationService(log *slog.Logger, deps GenerationDeps, promptMinLength int, pendingTimeout time.Duration) *GenerationService {
	if promptMinLength <= 0 {
		promptMinLength = 10
	}
	return &GenerationService{
		log:             log,
		clock:           deps.Clock,
		tracker:         deps.Tracker,
		quota:           deps.Quota,
		profiles:        deps.Profiles,
		sites:           deps.Sites,
		generator:       deps.Generator,
		archives:        deps.Archives,
		metrics:         deps.Metrics,
		promptMinLength: promptMinLength,
		pendingTimeout:  pendingTimeout,
	}
}

// GenerationOutcome is the result of one generation attempt. Err is nil only
// when Site reached completed.
type GenerationOutcome struct {
	Site     *models.GeneratedSite
	Profile  *models.UserProfile
	Duration time.Duration
	Err      error

	code       string
	archiveKey string
}

func (o *GenerationOutcome) Succeeded() bool {
	return o.Err == nil
}

// Generate validates the prompt, checks quota, runs the generator and closes
// the record. Errors before a record exists are returned directly; failures
// after that come back as a failed outcome together with an upstream error.
func (s *GenerationService) Generate(ctx context.Context, prompt string, user *models.User) (*GenerationOutcome, error) {
	prompt = strings.TrimSpace(prompt)
	if countNonSpace(prompt) < s.promptMinLength {
		return nil, NewAppError(CodeValidation,
			fmt.Sprintf("Please enter a prompt with at least %d characters.", s.promptMinLength), ErrValidation)
	}

	var (
		profile     *models.UserProfile
		owner       *int64
		reservation *CreditReservation
	)
	if user != nil {
		owner = &user.ID
		var err error
		profile, err = s.profiles.GetProfile(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if profile == nil {
			return nil, NewAppError(CodeNotFound, "Profile not found.", ErrNotFound)
		}
		if _, err := s.quota.Reconcile(ctx, profile); err != nil {
			return nil, err
		}
		if !s.quota.CanGenerate(profile) {
			return nil, s.quotaExceeded()
		}
		reservation, err = s.quota.Reserve(ctx, profile)
		if err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				return nil, s.quotaExceeded()
			}
			return nil, err
		}
	}

	site, err := s.tracker.Open(ctx, prompt, owner)
	if err != nil {
		s.releaseReservation(ctx, reservation)
		return nil, err
	}

	outcome := s.produce(ctx, site)
	outcome.Profile = profile
	if outcome.Err == nil {
		outcome.Err = s.finish(ctx, outcome)
	}
	if outcome.Err != nil {
		s.cleanup(ctx, outcome, reservation)
		return outcome, NewAppError(CodeUpstreamGeneration, "Generation failed. Please try again.", outcome.Err)
	}

	if profile != nil {
		if err := s.quota.Commit(ctx, profile); err != nil {
			s.log.Error("record generation usage", "err", err, "user_id", profile.UserID, "site_id", site.ID)
		}
	}
	s.observe(outcome)
	s.log.Info("site generated", "site_id", site.ID, "duration", outcome.Duration.String())
	return outcome, nil
}

// produce calls the generator and stores the archive. It never leaves the
// record terminal; that is up to the caller.
func (s *GenerationService) produce(ctx context.Context, site *models.GeneratedSite) (outcome *GenerationOutcome) {
	outcome = &GenerationOutcome{Site: site}
	started := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("%w: panic: %v", ErrUpstreamGeneration, r)
		}
		outcome.Duration = s.clock.Now().Sub(started)
	}()

	code, err := s.generator.GenerateSite(ctx, site.Prompt)
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %w", ErrUpstreamGeneration, err)
		return outcome
	}

	data, err := archive.Package(archive.Site{ID: site.ID, Prompt: site.Prompt, Code: code, GeneratedAt: s.clock.Now()})
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %w", ErrUpstreamGeneration, err)
		return outcome
	}
	key, err := s.archives.Upload(ctx, site.ID, data, archive.ContentType)
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %w", ErrUpstreamGeneration, err)
		return outcome
	}
	outcome.code = code
	outcome.archiveKey = key
	return outcome
}

func (s *GenerationService) finish(ctx context.Context, outcome *GenerationOutcome) error {
	if err := s.tracker.Complete(ctx, outcome.Site, outcome.archiveKey, outcome.code); err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	return nil
}

// cleanup closes a failed attempt: the record becomes failed, an uploaded
// archive is removed and a reserved credit is refunded. It runs detached from
// the request context so an abandoned request still settles.
func (s *GenerationService) cleanup(ctx context.Context, outcome *GenerationOutcome, reservation *CreditReservation) {
	ctx = context.WithoutCancel(ctx)
	site := outcome.Site

	s.log.Error("generation failed", "site_id", site.ID, "err", outcome.Err)
	if outcome.archiveKey != "" {
		if err := s.archives.Delete(ctx, outcome.archiveKey); err != nil {
			s.log.Warn("delete orphan archive", "key", outcome.archiveKey, "err", err)
		}
	}
	if site.Status == models.SiteStatusPending {
		if err := s.tracker.Fail(ctx, site); err != nil {
			s.log.Error("mark generation failed", "site_id", site.ID, "err", err)
		}
	}
	s.releaseReservation(ctx, reservation)
	s.observe(outcome)
}

func (s *GenerationService) releaseReservation(ctx context.Context, reservation *CreditReservation) {
	if reservation == nil {
		return
	}
	refunded, err := s.quota.Refund(context.WithoutCancel(ctx), reservation)
	if err != nil {
		s.log.Error("refund free credit", "user_id", reservation.UserID, "err", err)
		return
	}
	if !refunded {
		s.log.Info("reservation voided by plan change", "user_id", reservation.UserID)
	}
}

func (s *GenerationService) observe(outcome *GenerationOutcome) {
	if s.metrics == nil {
		return
	}
	status := string(models.SiteStatusCompleted)
	if outcome.Err != nil {
		status = string(models.SiteStatusFailed)
	}
	s.metrics.GenerationsTotal.WithLabelValues(status).Inc()
	s.metrics.GenerationDuration.Observe(outcome.Duration.Seconds())
}

func (s *GenerationService) quotaExceeded() *AppError {
	if s.metrics != nil {
		s.metrics.QuotaRejections.Inc()
	}
	return NewAppErrorWithDetails(CodeQuotaExceeded,
		"You've reached your website generation limit. Please upgrade to continue creating websites!",
		ErrQuotaExceeded,
		map[string]any{
			"upgrade_required":       true,
			"redirect_url":           "/pricing",
			"subscription_plans_url": "/api/pricing",
		})
}

// Site returns a record the viewer may see. viewer may be nil.
func (s *GenerationService) Site(ctx context.Context, id int64, viewer *models.User) (*models.GeneratedSite, error) {
	site, err := s.sites.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, NewAppError(CodeNotFound, "Site not found.", ErrNotFound)
	}
	if !CanAccess(site, viewer) {
		return nil, NewAppError(CodePermissionDenied, "You do not have access to this site.", ErrPermissionDenied)
	}
	return site, nil
}

// Download returns the archive of a completed site and counts the download.
func (s *GenerationService) Download(ctx context.Context, id int64, viewer *models.User) (*models.GeneratedSite, []byte, error) {
	site, err := s.Site(ctx, id, viewer)
	if err != nil {
		return nil, nil, err
	}
	if !site.HasArtifact() {
		return nil, nil, NewAppError(CodeNotFound, "File not found.", ErrNotFound)
	}
	data, err := s.archives.Get(ctx, site.ArtifactKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load archive: %w", err)
	}
	if err := s.tracker.RecordDownload(ctx, site); err != nil {
		return nil, nil, err
	}
	return site, data, nil
}

// Delete removes a user's own site and its archive.
func (s *GenerationService) Delete(ctx context.Context, id int64, user *models.User) error {
	site, err := s.sites.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if site == nil {
		return NewAppError(CodeNotFound, "Site not found.", ErrNotFound)
	}
	if site.UserID == nil || *site.UserID != user.ID {
		return NewAppError(CodePermissionDenied, "You can only delete your own sites.", ErrPermissionDenied)
	}
	if site.ArtifactKey != "" {
		if err := s.archives.Delete(ctx, site.ArtifactKey); err != nil {
			s.log.Warn("delete archive", "site_id", id, "err", err)
		}
	}
	return s.sites.Delete(ctx, id)
}

type DashboardQuery struct {
	Status models.SiteStatus
	Search string
	Page   int
}

type Dashboard struct {
	Sites       []models.GeneratedSite `json:"sites"`
	Page        int                    `json:"page"`
	Pages       int                    `json:"pages"`
	Stats       models.SiteStats       `json:"stats"`
	Profile     *models.UserProfile    `json:"profile"`
	Remaining   Remaining              `json:"remaining"`
	CanGenerate bool                   `json:"can_generate"`
	DaysJoined  int                    `json:"days_since_joined"`
}

func (s *GenerationService) Dashboard(ctx context.Context, user *models.User, q DashboardQuery) (*Dashboard, error) {
	profile, err := s.reconciledProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if q.Status != "" && q.Status != models.SiteStatusPending && !q.Status.Terminal() {
		q.Status = ""
	}
	if q.Page < 1 {
		q.Page = 1
	}

	filter := repository.SiteFilter{UserID: user.ID, Status: q.Status, Search: q.Search, Limit: DashboardPageSize}
	stats, err := s.sites.Stats(ctx, filter)
	if err != nil {
		return nil, err
	}
	pages := (stats.Total + DashboardPageSize - 1) / DashboardPageSize
	if pages < 1 {
		pages = 1
	}
	if q.Page > pages {
		q.Page = pages
	}
	filter.Offset = (q.Page - 1) * DashboardPageSize

	sites, _, err := s.sites.ListByUser(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		Sites:       sites,
		Page:        q.Page,
		Pages:       pages,
		Stats:       stats,
		Profile:     profile,
		Remaining:   s.quota.Remaining(profile),
		CanGenerate: s.quota.CanGenerate(profile),
		DaysJoined:  int(s.clock.Now().Sub(user.CreatedAt).Hours() / 24),
	}, nil
}

// CompletedThisMonth counts the user's completed sites since the start of the current month.
func (s *GenerationService) CompletedThisMonth(ctx context.Context, userID int64) (int, error) {
	now := s.clock.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.sites.CountCompletedSince(ctx, userID, start)
}

func (s *GenerationService) Recent(ctx context.Context, limit int) ([]models.GeneratedSite, error) {
	return s.sites.ListRecent(ctx, limit)
}

// SweepAbandoned fails pending records older than the configured timeout.
func (s *GenerationService) SweepAbandoned(ctx context.Context) (int64, error) {
	n, err := s.tracker.SweepAbandoned(ctx, s.pendingTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("failed abandoned generation records", "count", n)
		if s.metrics != nil {
			s.metrics.AbandonedSwept.Add(float64(n))
		}
	}
	return n, nil
}

func (s *GenerationService) reconciledProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, NewAppError(CodeNotFound, "Profile not found.", ErrNotFound)
	}
	if _, err := s.quota.Reconcile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
