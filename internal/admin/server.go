package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/repository"
	"github.com/digkill/SiteGenerator/internal/service"
)

type PlanAdmin interface {
	List(ctx context.Context) ([]service.PlanView, error)
	Update(ctx context.Context, code models.Plan, input service.UpdatePlanInput) (*models.PricingPlan, error)
}

type PaymentAdmin interface {
	List(ctx context.Context, limit, offset int) ([]models.Payment, error)
	MarkStatus(ctx context.Context, txnID string, status models.PaymentStatus) (*models.Payment, error)
}

type SiteAdmin interface {
	Recent(ctx context.Context, limit int) ([]models.GeneratedSite, error)
	SweepAbandoned(ctx context.Context) (int64, error)
}

type UserAdmin interface {
	List(ctx context.Context, limit, offset int) ([]models.User, error)
}

type SuggestionAdmin interface {
	List(ctx context.Context, status models.SuggestionStatus, limit int) ([]models.Suggestion, error)
	UpdateStatus(ctx context.Context, id int64, status models.SuggestionStatus, notes string) (*models.Suggestion, error)
}

var (
	_ PlanAdmin       = (*service.PlanService)(nil)
	_ PaymentAdmin    = (*service.PaymentService)(nil)
	_ SiteAdmin       = (*service.GenerationService)(nil)
	_ SuggestionAdmin = (*service.SuggestionService)(nil)
	_ UserAdmin       = (*repository.UserRepository)(nil)
)

const defaultListLimit = 50

type Server struct {
	addr        string
	username    string
	password    string
	log         *slog.Logger
	plans       PlanAdmin
	payments    PaymentAdmin
	sites       SiteAdmin
	suggestions SuggestionAdmin
	users       UserAdmin
	router      *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, plans PlanAdmin, payments PaymentAdmin, sites SiteAdmin, suggestions SuggestionAdmin, users UserAdmin) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		username:    username,
		password:    password,
		log:         log,
		plans:       plans,
		payments:    payments,
		sites:       sites,
		suggestions: suggestions,
		users:       users,
		router:      r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Put("/{code}", s.handleUpdatePlan)
		})
		protected.Route("/payments", func(r chi.Router) {
			r.Get("/", s.handleListPayments)
			r.Put("/{txn}/status", s.handlePaymentStatus)
		})
		protected.Get("/users", s.handleListUsers)
		protected.Get("/sites", s.handleListSites)
		protected.Route("/suggestions", func(r chi.Router) {
			r.Get("/", s.handleListSuggestions)
			r.Put("/{id}", s.handleUpdateSuggestion)
		})
		protected.Post("/maintenance/sweep", s.handleSweep)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req planUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	code := models.Plan(strings.ToLower(chi.URLParam(r, "code")))
	plan, err := s.plans.Update(r.Context(), code, service.UpdatePlanInput{
		Title:           req.Title,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		IsActive:        req.IsActive,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payments, err := s.payments.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payments)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	txn := chi.URLParam(r, "txn")
	payment, err := s.payments.MarkStatus(r.Context(), txn, models.PaymentStatus(req.Status))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("payment status set by operator", "txn", txn, "status", payment.Status)
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	users, err := s.users.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sites, err := s.sites.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sites)
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, _, err := pageParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := models.SuggestionStatus(r.URL.Query().Get("status"))
	suggestions, err := s.suggestions.List(r.Context(), status, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleUpdateSuggestion(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	suggestion, err := s.suggestions.UpdateStatus(r.Context(), id, models.SuggestionStatus(req.Status), req.Notes)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.sites.SweepAbandoned(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"failed": n})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="sitegen"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps service errors to a status; unknown errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, err error) {
	appErr := service.AsAppError(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, status, map[string]any{"error": appErr.Message, "code": appErr.Code})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, errors.New("invalid offset")
		}
	}
	return limit, offset, nil
}

type planUpdateRequest struct {
	Title           *string `json:"title"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	IsActive        *bool   `json:"is_active"`
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"admin_notes"`
}
