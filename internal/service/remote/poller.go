package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/shipgate/shipgate/internal/domain"
)

// Poller fetches the executor's status snapshot. A failed fetch of any kind
// is encoded in RemoteStatus.Error rather than returned as a Go error, so
// older executor builds without a status endpoint degrade gracefully.
type Poller struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewPoller returns a status poller with its own bounded timeout.
func NewPoller(executorURL string, timeout time.Duration, logger *slog.Logger) Poller {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return Poller{
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		baseURL: strings.TrimRight(strings.TrimSpace(executorURL), "/"),
	}
}

// Fetch retrieves the current remote status. The zero value with Error set
// is returned on any failure; a timeout is not a job failure, the remote job
// may still be running.
func (p Poller) Fetch(ctx context.Context) domain.RemoteStatus {
	if p.baseURL == "" {
		return domain.RemoteStatus{Error: "executor URL not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/status", nil)
	if err != nil {
		return domain.RemoteStatus{Error: fmt.Sprintf("build status request: %v", err)}
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("remote status fetch failed", "error", err)
		return domain.RemoteStatus{Error: fmt.Sprintf("status fetch failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Older executor builds predate the status endpoint.
		return domain.RemoteStatus{Error: "status endpoint unavailable on remote build"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.RemoteStatus{Error: fmt.Sprintf("status fetch returned %s", resp.Status)}
	}

	var status domain.RemoteStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		p.logger.Warn("remote status undecodable", "error", err)
		return domain.RemoteStatus{Error: fmt.Sprintf("decode status: %v", err)}
	}
	return status
}
