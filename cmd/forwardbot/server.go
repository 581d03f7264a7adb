package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"forwardbot/internal/constants"
	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/middleware"
	"forwardbot/internal/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxRequestBodyBytes = 1 << 20

// AccountManager is the account and allow-list surface the admin API drives
type AccountManager interface {
	RegisterAccount(ctx context.Context, account *models.Account) error
	RemoveAccount(ctx context.Context, accountID int64) error
	Contacts(ctx context.Context, accountID int64) ([]models.AllowListEntry, error)
	AddContact(ctx context.Context, entry *models.AllowListEntry) error
	RemoveContact(ctx context.Context, accountID, contactID int64) error
}

// WorkerScheduler is told when the account set changes
type WorkerScheduler interface {
	Refresh()
	ActiveAccounts() []int64
}

// Pinger reports database reachability for /health
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	accounts  AccountManager
	scheduler WorkerScheduler
	db        Pinger
	alerts    http.Handler
	metrics   *metrics.Registry
	cfg       models.ServerConfig
	server    *http.Server
}

func NewServer(cfg models.ServerConfig, accounts AccountManager, scheduler WorkerScheduler, db Pinger, alerts http.Handler, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		accounts:  accounts,
		scheduler: scheduler,
		db:        db,
		alerts:    alerts,
		metrics:   registry,
		cfg:       cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger, s.metrics, s.cfg.TrustProxy))
	s.router.Use(middleware.BearerAuth(s.cfg.AdminToken))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.Handle("/ws/alerts", s.alerts).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/accounts").Subrouter()
	api.HandleFunc("", s.handleRegisterAccount()).Methods(http.MethodPost)
	api.HandleFunc("/{id:-?[0-9]+}", s.handleRemoveAccount()).Methods(http.MethodDelete)
	api.HandleFunc("/{id:-?[0-9]+}/contacts", s.handleListContacts()).Methods(http.MethodGet)
	api.HandleFunc("/{id:-?[0-9]+}/contacts", s.handleAddContact()).Methods(http.MethodPost)
	api.HandleFunc("/{id:-?[0-9]+}/contacts/{contactID:-?[0-9]+}", s.handleRemoveContact()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting admin server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// registerAccountRequest carries the token that models.Account never serializes
type registerAccountRequest struct {
	AccountID         int64  `json:"account_id"`
	SourceUserID      int64  `json:"source_user_id"`
	SourceToken       string `json:"source_token"`
	MaxExceptionCount int    `json:"max_exception_count"`
}

type addContactRequest struct {
	ContactID   int64  `json:"contact_id"`
	DisplayName string `json:"display_name"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Workers  int    `json:"workers"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Database: "ok", Workers: len(s.scheduler.ActiveAccounts())}
		status := http.StatusOK
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Health check database ping failed")
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, resp)
	}
}

func (s *Server) handleRegisterAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerAccountRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}

		account := &models.Account{
			AccountID:         req.AccountID,
			SourceUserID:      req.SourceUserID,
			SourceToken:       req.SourceToken,
			MaxExceptionCount: req.MaxExceptionCount,
		}
		if err := s.accounts.RegisterAccount(r.Context(), account); err != nil {
			s.writeError(w, err)
			return
		}
		s.scheduler.Refresh()
		s.writeJSON(w, http.StatusCreated, account)
	}
}

func (s *Server) handleRemoveAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.accounts.RemoveAccount(r.Context(), accountID); err != nil {
			s.writeError(w, err)
			return
		}
		s.scheduler.Refresh()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, err)
			return
		}
		contacts, err := s.accounts.Contacts(r.Context(), accountID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if contacts == nil {
			contacts = []models.AllowListEntry{}
		}
		s.writeJSON(w, http.StatusOK, contacts)
	}
}

func (s *Server) handleAddContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, err)
			return
		}
		var req addContactRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}

		entry := &models.AllowListEntry{
			AccountID:       accountID,
			SourceContactID: req.ContactID,
			DisplayName:     req.DisplayName,
		}
		if err := s.accounts.AddContact(r.Context(), entry); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, entry)
	}
}

func (s *Server) handleRemoveContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathID(r, "id")
		if err != nil {
			s.writeError(w, err)
			return
		}
		contactID, err := pathID(r, "contactID")
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.accounts.RemoveContact(r.Context(), accountID, contactID); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(name, "must be an integer")
	}
	return id, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed request body")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

type errorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Code: apperrors.ErrCodeInternalError, Message: "internal error"}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
		switch appErr.Code {
		case apperrors.ErrCodeInvalidInput:
			status = http.StatusBadRequest
			resp.Message = appErr.Message
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
			resp.Message = appErr.Message
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Admin request failed")
	}
	s.writeJSON(w, status, resp)
}
