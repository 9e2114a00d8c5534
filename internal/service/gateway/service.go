package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/pkg/config"
	"github.com/shipgate/shipgate/pkg/signature"
)

// Configuration errors are non-retryable until the operator fixes them;
// Trigger refuses the call outright.
var (
	ErrWebhookURLMissing    = errors.New("gateway: executor webhook URL not configured")
	ErrWebhookSecretMissing = errors.New("gateway: webhook secret not configured")
)

// TriggerError reports a rejected or unreachable trigger call. No optimistic
// state may be created when the caller sees one.
type TriggerError struct {
	Reason string
}

func (e *TriggerError) Error() string {
	return "gateway: promotion trigger failed: " + e.Reason
}

// Service fires the remote promotion hook. The call is fire-and-forget with
// respect to job completion: a 2xx means accepted, nothing more.
type Service struct {
	client *http.Client
	logger *slog.Logger
	cfg    config.ControlConfig
}

// New returns a gateway service.
func New(logger *slog.Logger, cfg config.ControlConfig) Service {
	timeout := cfg.TriggerTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return Service{
		client: &http.Client{Timeout: timeout},
		logger: logger,
		cfg:    cfg,
	}
}

// Available reports whether both the webhook URL and secret are configured.
func (s Service) Available() bool {
	return strings.TrimSpace(s.cfg.ExecutorURL) != "" && strings.TrimSpace(s.cfg.WebhookSecret) != ""
}

// Trigger signs and posts the promotion request. On acceptance it returns
// the intent the caller should seed; any non-2xx response or transport
// failure is a TriggerError, never an assumed acceptance. preDeployedSHA is
// the last deployed SHA known before the trigger; reconciliation detects
// completion by the ledger moving past it.
func (s Service) Trigger(ctx context.Context, requestedBy, headSHA, preDeployedSHA string) (*domain.PromotionIntent, error) {
	if strings.TrimSpace(s.cfg.ExecutorURL) == "" {
		return nil, ErrWebhookURLMissing
	}
	if strings.TrimSpace(s.cfg.WebhookSecret) == "" {
		return nil, ErrWebhookSecretMissing
	}

	now := time.Now().UTC()
	request := domain.PromoteRequest{
		RunID:       uuid.NewString(),
		RequestedBy: requestedBy,
		HeadSHA:     headSHA,
		TriggeredAt: now,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode promote request: %w", err)
	}

	url := strings.TrimRight(s.cfg.ExecutorURL, "/") + "/hooks/promote"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build promote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign([]byte(s.cfg.WebhookSecret), payload))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("promotion trigger unreachable", "run_id", request.RunID, "error", err)
		return nil, &TriggerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		reason := strings.TrimSpace(extractError(body))
		if reason == "" {
			reason = resp.Status
		}
		s.logger.Error("promotion trigger rejected", "run_id", request.RunID, "status", resp.Status, "reason", reason)
		return nil, &TriggerError{Reason: reason}
	}

	s.logger.Info("promotion triggered", "run_id", request.RunID, "head_sha", headSHA, "requested_by", requestedBy)
	return &domain.PromotionIntent{
		RunID:         request.RunID,
		TriggeredAt:   now,
		PreTriggerSHA: preDeployedSHA,
	}, nil
}

func extractError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}
