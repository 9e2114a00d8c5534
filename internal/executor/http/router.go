package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/internal/executor"
	"github.com/shipgate/shipgate/internal/repository"
	"github.com/shipgate/shipgate/pkg/signature"
)

// Router exposes HTTP endpoints for the executor service.
type Router struct {
	mux                *http.ServeMux
	logger             *slog.Logger
	executor           *executor.Service
	secret             string
	dbHealth           func(context.Context) error
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	promotionResults   *prometheus.CounterVec
}

const (
	healthCheckTimeout = 2 * time.Second
	maxHookBody        = 64 * 1024
)

// New creates and registers handlers.
func New(logger *slog.Logger, executorSvc *executor.Service, secret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		executor: executorSvc,
		secret:   strings.TrimSpace(secret),
		dbHealth: dbHealth,
	}
	r.initMetrics()
	if executorSvc != nil {
		executorSvc.SetResultHook(r.recordPromotionResult)
	}
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/status", r.instrument("/status", r.handleStatus))
	r.mux.HandleFunc("/hooks/promote", r.instrument("/hooks/promote", r.handlePromoteHook))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	component := map[string]any{"status": "up"}
	status := "ok"
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			component = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		}
	}
	payload := map[string]any{
		"status": status,
		"components": map[string]any{
			"database": component,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	snapshot, err := r.executor.Status(req.Context())
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, snapshot)
}

func (r *Router) handlePromoteHook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.secret == "" {
		r.logger.Error("promote hook secret not configured")
		r.writeError(w, http.StatusInternalServerError, "promotion authentication misconfigured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxHookBody))
	if err != nil {
		r.writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	provided := req.Header.Get(signature.Header)
	if err := signature.Verify([]byte(r.secret), body, provided); err != nil {
		r.logger.Warn("promote hook signature rejected", "error", err)
		r.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var payload domain.PromoteRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.RunID) == "" {
		r.writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	if err := r.executor.Accept(req.Context(), payload); err != nil {
		var held *repository.LockHeldError
		switch {
		case errors.As(err, &held):
			r.writeError(w, http.StatusConflict, fmt.Sprintf("Promotion already in progress (held by %s)", held.HeldBy))
		case errors.Is(err, executor.ErrHeadSHARequired):
			r.writeError(w, http.StatusBadRequest, "head_sha is required")
		case errors.Is(err, executor.ErrStaleTrigger):
			r.writeError(w, http.StatusForbidden, "trigger timestamp outside freshness window")
		default:
			r.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	r.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": payload.RunID,
	})
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}
