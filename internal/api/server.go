// Package api serves the public JSON API of the site generator.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/SiteGenerator/internal/auth"
	"github.com/digkill/SiteGenerator/internal/metrics"
	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/ratelimit"
	"github.com/digkill/SiteGenerator/internal/service"
)

// Accounts covers registration, login and email verification.
type Accounts interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	ResendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*service.Session, error)
	User(ctx context.Context, id int64) (*models.User, error)
}

// Sites covers generation and the user's generated sites.
type Sites interface {
	Generate(ctx context.Context, prompt string, user *models.User) (*service.GenerationOutcome, error)
	Site(ctx context.Context, id int64, viewer *models.User) (*models.GeneratedSite, error)
	Download(ctx context.Context, id int64, viewer *models.User) (*models.GeneratedSite, []byte, error)
	Delete(ctx context.Context, id int64, user *models.User) error
	Dashboard(ctx context.Context, user *models.User, q service.DashboardQuery) (*service.Dashboard, error)
}

// Billing covers payments and the subscription.
type Billing interface {
	OpenPayment(ctx context.Context, user *models.User, plan models.Plan) (*service.Checkout, error)
	QRCode(ctx context.Context, txnID string, user *models.User) ([]byte, error)
	Confirm(ctx context.Context, txnID string, user *models.User) (*service.Confirmation, error)
	Subscription(ctx context.Context, user *models.User) (*service.SubscriptionOverview, error)
	CancelSubscription(ctx context.Context, user *models.User) (*models.UserProfile, error)
}

type Catalog interface {
	List(ctx context.Context) ([]service.PlanView, error)
}

type Feedback interface {
	Submit(ctx context.Context, user *models.User, in service.SuggestionInput) (*models.Suggestion, error)
	Implemented(ctx context.Context) ([]models.Suggestion, error)
}

// Limiter admits or rejects a request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

var (
	_ Accounts = (*service.UserService)(nil)
	_ Sites    = (*service.GenerationService)(nil)
	_ Billing  = (*service.PaymentService)(nil)
	_ Catalog  = (*service.PlanService)(nil)
	_ Feedback = (*service.SuggestionService)(nil)
	_ Limiter  = (*ratelimit.FixedWindowLimiter)(nil)
)

type Deps struct {
	Accounts     Accounts
	Sites        Sites
	Billing      Billing
	Catalog      Catalog
	Feedback     Feedback
	Tokens       *auth.Manager
	Limiter      Limiter
	DB           Pinger
	Metrics      *metrics.Metrics
	Log          *slog.Logger
	WriteTimeout time.Duration
}

type Server struct {
	addr         string
	log          *slog.Logger
	accounts     Accounts
	sites        Sites
	billing      Billing
	catalog      Catalog
	feedback     Feedback
	tokens       *auth.Manager
	limiter      Limiter
	db           Pinger
	metrics      *metrics.Metrics
	writeTimeout time.Duration
	router       *chi.Mux
}

func NewServer(addr string, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	writeTimeout := deps.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}

	s := &Server{
		addr:         addr,
		log:          log,
		accounts:     deps.Accounts,
		sites:        deps.Sites,
		billing:      deps.Billing,
		catalog:      deps.Catalog,
		feedback:     deps.Feedback,
		tokens:       deps.Tokens,
		limiter:      deps.Limiter,
		db:           deps.DB,
		metrics:      deps.Metrics,
		writeTimeout: writeTimeout,
		router:       chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(metrics.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.tokens.Optional)
		r.Use(s.loadUser)

		r.Post("/api/auth/register", s.handleRegister)
		r.Post("/api/auth/login", s.handleLogin)
		r.Post("/api/auth/otp/resend", s.handleResendOTP)
		r.Post("/api/auth/otp/verify", s.handleVerifyOTP)

		r.With(s.rateLimit).Post("/api/generate", s.handleGenerate)
		r.Get("/generation-result/{id}", s.handleSite)
		r.Get("/api/sites/{id}", s.handleSite)
		r.Get("/download/{id}", s.handleDownload)
		r.Get("/api/pricing", s.handlePricing)

		r.Post("/api/suggestions", s.handleSubmitSuggestion)
		r.Get("/api/suggestions/implemented", s.handleImplementedSuggestions)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Delete("/api/sites/{id}", s.handleDeleteSite)
			r.Get("/api/dashboard", s.handleDashboard)
			r.Post("/api/payments", s.handleOpenPayment)
			r.Get("/api/payments/{txn}/qr.png", s.handlePaymentQR)
			r.Post("/api/payments/confirm", s.handleConfirmPayment)
			r.Get("/payment-success", s.handlePaymentSuccess)
			r.Get("/api/subscription", s.handleSubscription)
			r.Post("/api/subscription/cancel", s.handleCancelSubscription)
		})
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.writeTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("public api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
