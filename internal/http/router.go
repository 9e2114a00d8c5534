package httpx

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/shipgate/shipgate/internal/service/gateway"
	"github.com/shipgate/shipgate/internal/service/status"
	"github.com/shipgate/shipgate/internal/ws"
)

// Router wires control-plane HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	status   *status.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitStatus    = 120
	rateLimitPromote   = 10
	rateLimitWebsocket = 30
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, statusSvc *status.Service, hub *ws.Hub, limiter RateLimiter) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		status: statusSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: limiter,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/admin/status", r.audit(r.withRateLimit(rateLimitStatus, rateWindowDefault, r.handleStatus)))
	r.mux.HandleFunc("/admin/promote", r.audit(r.withRateLimit(rateLimitPromote, rateWindowDefault, r.handlePromote)))
	r.mux.HandleFunc("/ws/status", r.audit(r.withRateLimit(rateLimitWebsocket, rateWindowRealtime, r.handleStatusWS)))
	r.mux.HandleFunc("/events/status", r.audit(r.withRateLimit(rateLimitWebsocket, rateWindowRealtime, r.handleStatusSSE)))
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	// Polled on an adaptive cadence; never serve a stale snapshot.
	w.Header().Set("Cache-Control", "no-store")
	snapshot := r.status.GetStatus(req.Context())
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *Router) handlePromote(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor := strings.TrimSpace(req.Header.Get("X-Operator"))
	if actor == "" {
		actor = clientIP(req)
	}
	intent, err := r.status.Promote(req.Context(), actor)
	if err != nil {
		r.writePromoteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": intent.RunID,
	})
}

// writePromoteError keeps the three refusal reasons distinct so an operator
// can self-diagnose a misconfigured webhook versus a busy executor.
func (r *Router) writePromoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrWebhookURLMissing):
		writeError(w, http.StatusBadRequest, "promotion webhook URL is not configured")
	case errors.Is(err, gateway.ErrWebhookSecretMissing):
		writeError(w, http.StatusBadRequest, "promotion webhook secret is not configured")
	case errors.Is(err, status.ErrPromotionInProgress):
		writeError(w, http.StatusConflict, "Promotion already in progress")
	default:
		var trigger *gateway.TriggerError
		if errors.As(err, &trigger) {
			writeError(w, http.StatusBadGateway, trigger.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) handleStatusWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusNotFound, "live status stream disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(status.StatusChannel, client)
	go func() {
		defer func() {
			r.hub.Unregister(status.StatusChannel, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

const sseHeartbeatInterval = 15 * time.Second

// handleStatusSSE serves the same stream as /ws/status for clients that
// cannot hold a websocket open (curl, reverse proxies without upgrade).
func (r *Router) handleStatusSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusNotFound, "live status stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(status.StatusChannel, client)
	defer func() {
		r.hub.Unregister(status.StatusChannel, client)
		client.Close()
	}()

	// Backfill the current snapshot so the subscriber renders immediately
	// instead of waiting for the next poll tick.
	if snapshot, err := json.Marshal(r.status.GetStatus(req.Context())); err == nil {
		if err := client.Send(snapshot); err != nil {
			return
		}
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		code := recorder.status
		if code == 0 {
			code = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", code,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case code >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case code >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
