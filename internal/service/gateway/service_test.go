package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/pkg/config"
	"github.com/shipgate/shipgate/pkg/signature"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestTriggerSignsAndReturnsIntent(t *testing.T) {
	var (
		gotSignature string
		gotBody      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(signature.Header)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}))
	defer server.Close()

	svc := New(testLogger(), config.ControlConfig{
		ExecutorURL:   server.URL,
		WebhookSecret: "hooksecret",
	})

	intent, err := svc.Trigger(context.Background(), "alice", "headsha", "prevsha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.RunID == "" {
		t.Fatal("expected a run id")
	}
	if intent.PreTriggerSHA != "prevsha" {
		t.Fatalf("expected pre-trigger sha prevsha, got %q", intent.PreTriggerSHA)
	}
	if err := signature.Verify([]byte("hooksecret"), gotBody, gotSignature); err != nil {
		t.Fatalf("signature did not verify against the posted body: %v", err)
	}

	var req domain.PromoteRequest
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("body not a promote request: %v", err)
	}
	if req.RequestedBy != "alice" || req.HeadSHA != "headsha" {
		t.Fatalf("unexpected request payload: %+v", req)
	}
	if req.RunID != intent.RunID {
		t.Fatalf("run id mismatch: posted %q, intent %q", req.RunID, intent.RunID)
	}
}

func TestTriggerRejectionIsTriggerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "Promotion already in progress"})
	}))
	defer server.Close()

	svc := New(testLogger(), config.ControlConfig{
		ExecutorURL:   server.URL,
		WebhookSecret: "hooksecret",
	})

	_, err := svc.Trigger(context.Background(), "alice", "headsha", "")
	var trigErr *TriggerError
	if !errors.As(err, &trigErr) {
		t.Fatalf("expected TriggerError, got %v", err)
	}
	if trigErr.Reason != "Promotion already in progress" {
		t.Fatalf("expected remote reason surfaced, got %q", trigErr.Reason)
	}
}

func TestTriggerUnreachableIsTriggerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	svc := New(testLogger(), config.ControlConfig{
		ExecutorURL:   server.URL,
		WebhookSecret: "hooksecret",
	})

	_, err := svc.Trigger(context.Background(), "alice", "headsha", "")
	var trigErr *TriggerError
	if !errors.As(err, &trigErr) {
		t.Fatalf("expected TriggerError for unreachable executor, got %v", err)
	}
}

func TestTriggerRequiresConfiguration(t *testing.T) {
	svc := New(testLogger(), config.ControlConfig{WebhookSecret: "hooksecret"})
	if _, err := svc.Trigger(context.Background(), "alice", "sha", ""); !errors.Is(err, ErrWebhookURLMissing) {
		t.Fatalf("expected ErrWebhookURLMissing, got %v", err)
	}

	svc = New(testLogger(), config.ControlConfig{ExecutorURL: "http://executor.local"})
	if _, err := svc.Trigger(context.Background(), "alice", "sha", ""); !errors.Is(err, ErrWebhookSecretMissing) {
		t.Fatalf("expected ErrWebhookSecretMissing, got %v", err)
	}
}

func TestAvailable(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		secret string
		want   bool
	}{
		{"both set", "http://executor.local", "s", true},
		{"missing url", "", "s", false},
		{"missing secret", "http://executor.local", "", false},
		{"blank secret", "http://executor.local", "   ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(testLogger(), config.ControlConfig{ExecutorURL: tc.url, WebhookSecret: tc.secret})
			if got := svc.Available(); got != tc.want {
				t.Fatalf("Available() = %v, want %v", got, tc.want)
			}
		})
	}
}
