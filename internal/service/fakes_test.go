package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
)

// --- Mock Clock ---

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

func (c *mockClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *mockClock {
	return &mockClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

// --- In-memory accounts ---

type memAccounts struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*models.User
	profiles map[int64]*models.UserProfile
	versions map[int64]int64
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		users:    map[int64]*models.User{},
		profiles: map[int64]*models.UserProfile{},
		versions: map[int64]int64{},
	}
}

// seed adds an active user with the given profile state.
func (m *memAccounts) seed(p models.UserProfile) (*models.User, *models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &models.User{ID: m.nextID, Email: "user" + strconv.FormatInt(m.nextID, 10) + "@example.com", IsActive: true}
	p.UserID = u.ID
	p.AccountActive = true
	m.users[u.ID] = u
	m.profiles[u.ID] = &p
	cp := p
	return u, &cp
}

func (m *memAccounts) stored(userID int64) models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.profiles[userID]
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memAccounts) Create(_ context.Context, user *models.User, freeCredits int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return nil, repository.ErrDuplicate
		}
	}
	m.nextID++
	user.ID = m.nextID
	cp := *user
	m.users[user.ID] = &cp
	m.profiles[user.ID] = &models.UserProfile{UserID: user.ID, Plan: models.PlanFree, FreeCreditsRemaining: freeCredits}
	return user, nil
}

func (m *memAccounts) GetProfile(_ context.Context, userID int64) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.AccountActive = m.users[userID].IsActive
	return &cp, nil
}

func (m *memAccounts) SaveOTP(_ context.Context, userID int64, codeHash string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	p.OTPCode = codeHash
	p.OTPCreatedAt = &createdAt
	p.OTPAttempts = 0
	return nil
}

func (m *memAccounts) ClearOTP(_ context.Context, userID int64, codeHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if p.OTPCode == codeHash {
		p.OTPCode = ""
		p.OTPCreatedAt = nil
		p.OTPAttempts = 0
	}
	return nil
}

func (m *memAccounts) RecordOTPFailure(_ context.Context, userID int64, codeHash string, maxAttempts int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if p.OTPCode != codeHash || p.OTPAttempts >= maxAttempts {
		return 0, false, nil
	}
	p.OTPAttempts++
	return p.OTPAttempts, true, nil
}

func (m *memAccounts) MarkEmailVerified(_ context.Context, userID int64, codeHash string, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if p.OTPCode != codeHash || p.OTPAttempts >= maxAttempts {
		return false, nil
	}
	p.EmailVerified = true
	p.OTPCode = ""
	p.OTPCreatedAt = nil
	p.OTPAttempts = 0
	m.users[userID].IsActive = true
	return true, nil
}

func (m *memAccounts) DowngradeExpired(_ context.Context, userID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if p.Plan == models.PlanFree || (p.PlanExpiresAt != nil && p.PlanExpiresAt.After(now)) {
		return false, nil
	}
	p.Plan = models.PlanFree
	return true, nil
}

func (m *memAccounts) ReserveFreeCredit(_ context.Context, userID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[userID]
	if p.Plan != models.PlanFree || p.FreeCreditsRemaining <= 0 {
		return 0, false, nil
	}
	p.FreeCreditsRemaining--
	return m.versions[userID], true, nil
}

func (m *memAccounts) RefundFreeCredit(_ context.Context, userID, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[userID] != version {
		return false, nil
	}
	m.profiles[userID].FreeCreditsRemaining++
	return true, nil
}

func (m *memAccounts) IncrementGenerated(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID].TotalGenerated++
	return nil
}

func (m *memAccounts) UpdatePlan(_ context.Context, profile *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePlanLocked(profile)
	return nil
}

func (m *memAccounts) updatePlanLocked(profile *models.UserProfile) {
	p := m.profiles[profile.UserID]
	p.Plan = profile.Plan
	p.PlanExpiresAt = profile.PlanExpiresAt
	p.FreeCreditsRemaining = profile.FreeCreditsRemaining
	m.versions[profile.UserID]++
}

// --- In-memory generation records ---

type memSites struct {
	mu     sync.Mutex
	nextID int64
	sites  map[int64]*models.GeneratedSite
}

func newMemSites() *memSites {
	return &memSites{sites: map[int64]*models.GeneratedSite{}}
}

func (m *memSites) get(id int64) models.GeneratedSite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sites[id]
}

func (m *memSites) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sites)
}

func (m *memSites) Create(_ context.Context, site *models.GeneratedSite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	site.ID = m.nextID
	cp := *site
	m.sites[site.ID] = &cp
	return nil
}

func (m *memSites) GetByID(_ context.Context, id int64) (*models.GeneratedSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSites) transition(site *models.GeneratedSite) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[site.ID]
	if !ok || s.Status != models.SiteStatusPending {
		return false, nil
	}
	cp := *site
	m.sites[site.ID] = &cp
	return true, nil
}

func (m *memSites) Complete(_ context.Context, site *models.GeneratedSite) (bool, error) {
	return m.transition(site)
}

func (m *memSites) Fail(_ context.Context, site *models.GeneratedSite) (bool, error) {
	return m.transition(site)
}

func (m *memSites) IncrementDownloads(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return errors.New("no such site")
	}
	s.DownloadCount++
	return nil
}

func (m *memSites) FailStalePending(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sites {
		if s.Status == models.SiteStatusPending && s.CreatedAt.Before(cutoff) {
			s.Status = models.SiteStatusFailed
			completed := now
			duration := now.Sub(s.CreatedAt).Seconds()
			s.CompletedAt = &completed
			s.DurationSeconds = &duration
			n++
		}
	}
	return n, nil
}

func (m *memSites) filtered(f repository.SiteFilter) []models.GeneratedSite {
	var out []models.GeneratedSite
	for _, s := range m.sites {
		if s.UserID == nil || *s.UserID != f.UserID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(s.Prompt), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memSites) ListByUser(_ context.Context, f repository.SiteFilter) ([]models.GeneratedSite, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filtered(f)
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (m *memSites) Stats(_ context.Context, f repository.SiteFilter) (models.SiteStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats models.SiteStats
	for _, s := range m.filtered(f) {
		stats.Total++
		if s.Status == models.SiteStatusCompleted {
			stats.Completed++
		}
		stats.TotalDownloads += s.DownloadCount
	}
	return stats, nil
}

func (m *memSites) CountCompletedSince(_ context.Context, userID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sites {
		if s.UserID != nil && *s.UserID == userID && s.Status == models.SiteStatusCompleted && !s.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memSites) ListRecent(_ context.Context, limit int) ([]models.GeneratedSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GeneratedSite
	for _, s := range m.sites {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSites) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sites, id)
	return nil
}

// --- Generator and archive store ---

type fakeGenerator struct {
	code    string
	err     error
	panics  bool
	during  func()
	calls   int
	prompts []string
}

func (g *fakeGenerator) GenerateSite(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.during != nil {
		g.during()
	}
	if g.panics {
		panic("generator exploded")
	}
	if g.err != nil {
		return "", g.err
	}
	return g.code, nil
}

type memArchives struct {
	objects map[string][]byte
	failPut bool
}

func newMemArchives() *memArchives {
	return &memArchives{objects: map[string][]byte{}}
}

func (a *memArchives) Upload(_ context.Context, siteID int64, data []byte, _ string) (string, error) {
	if a.failPut {
		return "", errors.New("bucket unavailable")
	}
	key := "sites/website_" + strconv.FormatInt(siteID, 10) + ".zip"
	a.objects[key] = data
	return key, nil
}

func (a *memArchives) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := a.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (a *memArchives) Delete(_ context.Context, key string) error {
	delete(a.objects, key)
	return nil
}

// --- In-memory payments and catalog ---

type memPayments struct {
	mu       sync.Mutex
	nextID   int64
	payments map[string]*models.Payment
	accounts *memAccounts
}

func newMemPayments(accounts *memAccounts) *memPayments {
	return &memPayments{payments: map[string]*models.Payment{}, accounts: accounts}
}

func (m *memPayments) Create(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.TransactionID]; ok {
		return repository.ErrDuplicate
	}
	m.nextID++
	payment.ID = m.nextID
	cp := *payment
	m.payments[payment.TransactionID] = &cp
	return nil
}

func (m *memPayments) FindByTransaction(_ context.Context, txn string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[txn]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) UpdateStatus(_ context.Context, txn string, status models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[txn]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	return true, nil
}

func (m *memPayments) ListByUser(_ context.Context, userID int64, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPayments) List(_ context.Context, limit, offset int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPayments) Confirm(_ context.Context, txn string, userID int64, apply func(*models.UserProfile, *models.Payment)) (*repository.ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[txn]
	if !ok || p.UserID != userID {
		return nil, nil
	}
	switch p.Status {
	case models.PaymentStatusCompleted:
		cp := *p
		return &repository.ConfirmResult{Payment: &cp, AlreadyCompleted: true}, nil
	case models.PaymentStatusPending:
	default:
		return nil, nil
	}

	m.accounts.mu.Lock()
	profile := *m.accounts.profiles[userID]
	apply(&profile, p)
	m.accounts.updatePlanLocked(&profile)
	m.accounts.mu.Unlock()

	p.Status = models.PaymentStatusCompleted
	cp := *p
	return &repository.ConfirmResult{Payment: &cp, Profile: &profile}, nil
}

type memPlans struct {
	plans map[models.Plan]*models.PricingPlan
}

func newMemPlans() *memPlans {
	return &memPlans{plans: map[models.Plan]*models.PricingPlan{}}
}

func (m *memPlans) List(context.Context) ([]models.PricingPlan, error) {
	var out []models.PricingPlan
	for _, p := range m.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceMinorUnits < out[j].PriceMinorUnits })
	return out, nil
}

func (m *memPlans) GetByCode(_ context.Context, code models.Plan) (*models.PricingPlan, error) {
	p, ok := m.plans[code]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPlans) EnsureDefaults(_ context.Context, plans []models.PricingPlan) error {
	for _, p := range plans {
		if _, ok := m.plans[p.Code]; ok {
			continue
		}
		cp := p
		m.plans[p.Code] = &cp
	}
	return nil
}

func (m *memPlans) Update(_ context.Context, plan *models.PricingPlan) (*models.PricingPlan, error) {
	cp := *plan
	m.plans[plan.Code] = &cp
	return &cp, nil
}

// --- Notifier ---

type recordingNotifier struct {
	opened, awaiting, completed []string
}

func (n *recordingNotifier) PaymentOpened(_ context.Context, _ *models.User, p *models.Payment) {
	n.opened = append(n.opened, p.TransactionID)
}

func (n *recordingNotifier) PaymentAwaitingApproval(_ context.Context, p *models.Payment) {
	n.awaiting = append(n.awaiting, p.TransactionID)
}

func (n *recordingNotifier) PaymentCompleted(_ context.Context, p *models.Payment) {
	n.completed = append(n.completed, p.TransactionID)
}
