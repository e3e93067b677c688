package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"escrowflow/apperr"
	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/commission"
	"escrowflow/contract"
	"escrowflow/dispute"
	"escrowflow/i18n"
	"escrowflow/logging"
	"escrowflow/milestone"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyActor     ctxKey = "actor"
)

var (
	errMissingToken = apperr.New(apperr.KindUnauthorized, "common.unauthorized", errors.New("http: missing bearer token"))
	errAdminOnly    = apperr.New(apperr.KindUnauthorized, "common.forbidden", errors.New("http: admin role required"))
	errBadRequest   = apperr.New(apperr.KindValidation, "common.bad_request", errors.New("http: malformed request"))
)

type contractService interface {
	Create(ctx context.Context, actor auth.Actor, p contract.CreateParams) (contract.Result, error)
	Edit(ctx context.Context, actor auth.Actor, p contract.EditParams) (contract.Result, error)
	Modify(ctx context.Context, actor auth.Actor, p contract.EditParams, inputs []milestone.Input) (contract.Result, error)
	UpsertMilestones(ctx context.Context, actor auth.Actor, contractID int64, inputs []milestone.Input) (contract.Result, error)
	DeleteMilestone(ctx context.Context, actor auth.Actor, contractID, milestoneID int64) (contract.Result, error)
	ToggleActive(ctx context.Context, actor auth.Actor, contractID int64) (contract.Result, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, p contract.StatusParams) (contract.Result, error)
	Delete(ctx context.Context, actor auth.Actor, contractID int64) (contract.Result, error)
	Get(ctx context.Context, actor auth.Actor, contractID int64) (contract.Contract, error)
	List(ctx context.Context, actor auth.Actor, filter contract.ListFilter) ([]contract.Contract, error)
	Counts(ctx context.Context, actor auth.Actor) (contract.Counts, error)
	AuditLog(ctx context.Context, actor auth.Actor, contractID int64) ([]audit.Entry, error)
}

type disputeService interface {
	Create(ctx context.Context, actor auth.Actor, p dispute.CreateParams) (dispute.Result, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, p dispute.UpdateParams) (dispute.Result, error)
	List(ctx context.Context, actor auth.Actor, contractID int64) ([]dispute.Record, error)
}

type commissionService interface {
	List(ctx context.Context) ([]commission.Commission, error)
	Upsert(ctx context.Context, params commission.UpsertParams) (commission.Commission, error)
	SetGlobal(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

type authService interface {
	RequestOTP(ctx context.Context, mobile string) error
	VerifyOTP(ctx context.Context, mobile, code, name string) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Actor, error)
	SetDeviceToken(ctx context.Context, userID int64, token string) error
}

// Server exposes the contract engine over HTTP. Every response uses the
// {statusCode, message, data, warnings} envelope; warnings turn a success into
// 207 Multi-Status.
type Server struct {
	contracts   contractService
	disputes    disputeService
	commissions commissionService
	auth        authService
	messages    *i18n.Catalog
	log         *logging.Logger
	ready       func(ctx context.Context) error
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/otp", s.handleRequestOTP)
		r.Post("/auth/verify", s.handleVerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Put("/me/device-token", s.handleDeviceToken)

			r.Get("/contracts", s.handleListContracts)
			r.Post("/contracts", s.handleCreateContract)
			r.Get("/contracts/counts", s.handleContractCounts)
			r.Route("/contracts/{contractID}", func(r chi.Router) {
				r.Get("/", s.handleGetContract)
				r.Patch("/", s.handleEditContract)
				r.Put("/", s.handleModifyContract)
				r.Delete("/", s.handleDeleteContract)
				r.Put("/status", s.handleUpdateStatus)
				r.Post("/toggle-active", s.handleToggleActive)
				r.Put("/milestones", s.handleUpsertMilestones)
				r.Delete("/milestones/{milestoneID}", s.handleDeleteMilestone)
				r.Get("/audit", s.handleAuditLog)
				r.Get("/disputes", s.handleListDisputes)
				r.Post("/disputes", s.handleCreateDispute)
			})
			r.Patch("/disputes/{disputeID}", s.handleUpdateDispute)

			r.Route("/commissions", func(r chi.Router) {
				r.Use(adminOnly(s))
				r.Get("/", s.handleListCommissions)
				r.Post("/", s.handleUpsertCommission)
				r.Put("/{commissionID}", s.handleUpsertCommission)
				r.Put("/{commissionID}/global", s.handleSetGlobalCommission)
				r.Delete("/{commissionID}", s.handleDeleteCommission)
			})
		})
	})
	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				s.writeError(w, r, fmt.Errorf("http: panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", recorder.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		}
		switch {
		case recorder.statusCode >= 500:
			s.log.Error("http request completed", fields...)
		case recorder.statusCode >= 400:
			s.log.Warn("http request completed", fields...)
		default:
			s.log.Info("http request completed", fields...)
		}
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.writeError(w, r, errMissingToken)
			return
		}
		actor, err := s.auth.VerifyToken(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminOnly(s *Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !actorFrom(r).IsAdmin() {
				s.writeError(w, r, errAdminOnly)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

func actorFrom(r *http.Request) auth.Actor {
	actor, _ := r.Context().Value(ctxKeyActor).(auth.Actor)
	return actor
}

type envelope struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Data       any      `json:"data,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (s *Server) lang(r *http.Request) string {
	return s.messages.Negotiate(r.Header.Get("Accept-Language"))
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeSuccess localizes the message key and any warning keys. A response
// carrying warnings is reported as 207.
func (s *Server) writeSuccess(w http.ResponseWriter, r *http.Request, statusCode int, messageKey string, data any, warnings []string) {
	lang := s.lang(r)
	var localized []string
	if len(warnings) > 0 {
		statusCode = http.StatusMultiStatus
		localized = make([]string, 0, len(warnings))
		for _, key := range warnings {
			localized = append(localized, s.messages.Get(key, lang))
		}
	}
	writeJSON(w, statusCode, envelope{
		StatusCode: statusCode,
		Message:    s.messages.Get(messageKey, lang),
		Data:       data,
		Warnings:   localized,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, envelope{
		StatusCode: status,
		Message:    s.messages.Get(apperr.CodeOf(err), s.lang(r)),
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindLimitExceeded, apperr.KindWindowExpired:
		return http.StatusUnprocessableEntity
	case apperr.KindUnauthorized:
		if errors.Is(err, errMissingToken) || errors.Is(err, auth.ErrInvalidToken) ||
			errors.Is(err, auth.ErrInvalidOTP) || errors.Is(err, auth.ErrTooManyAttempts) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case apperr.KindDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, r, http.StatusOK, "common.success", map[string]string{"status": "ok"}, nil)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, r, apperr.Dependency("common.internal_error", err))
			return
		}
	}
	s.writeSuccess(w, r, http.StatusOK, "common.success", map[string]string{"status": "ready"}, nil)
}
