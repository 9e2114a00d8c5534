package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFetchDecodesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("expected /status, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"in_progress":true,"deployed_sha":"abc1234","recent_log_lines":["building image"]}`)
	}))
	defer server.Close()

	status := NewPoller(server.URL, time.Second, testLogger()).Fetch(context.Background())
	if status.Error != "" {
		t.Fatalf("unexpected error: %q", status.Error)
	}
	if !status.InProgress || status.DeployedSHA != "abc1234" {
		t.Fatalf("unexpected snapshot: %+v", status)
	}
	if len(status.RecentLogLines) != 1 {
		t.Fatalf("expected one log line, got %d", len(status.RecentLogLines))
	}
}

func TestFetchMissingEndpointIsSoftError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	status := NewPoller(server.URL, time.Second, testLogger()).Fetch(context.Background())
	if status.Error != "status endpoint unavailable on remote build" {
		t.Fatalf("expected legacy-executor error, got %q", status.Error)
	}
	if status.InProgress {
		t.Fatal("a failed fetch must not claim a promotion is running")
	}
}

func TestFetchTransportFailureIsSoftError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	status := NewPoller(server.URL, time.Second, testLogger()).Fetch(context.Background())
	if status.Error == "" {
		t.Fatal("expected transport failure to be recorded in Error")
	}
}

func TestFetchTimeoutIsSoftError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	status := NewPoller(server.URL, 20*time.Millisecond, testLogger()).Fetch(context.Background())
	if status.Error == "" {
		t.Fatal("expected timeout to be recorded in Error")
	}
}

func TestFetchBadJSONIsSoftError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	status := NewPoller(server.URL, time.Second, testLogger()).Fetch(context.Background())
	if !strings.HasPrefix(status.Error, "decode status:") {
		t.Fatalf("expected decode error, got %q", status.Error)
	}
}

func TestFetchUnconfiguredURLIsSoftError(t *testing.T) {
	status := NewPoller("", time.Second, testLogger()).Fetch(context.Background())
	if status.Error != "executor URL not configured" {
		t.Fatalf("expected configuration error, got %q", status.Error)
	}
}

func TestFetchServerErrorIsSoftError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	status := NewPoller(server.URL, time.Second, testLogger()).Fetch(context.Background())
	if !strings.Contains(status.Error, "500") {
		t.Fatalf("expected status code in error, got %q", status.Error)
	}
}
