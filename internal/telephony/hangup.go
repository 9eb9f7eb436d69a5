package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HangupClient terminates calls through the carrier's REST API, used when
// the agent decides to end the call.
type HangupClient struct {
	baseURL string
	client  *http.Client
}

// NewHangupClient creates a client for the carrier API at baseURL.
func NewHangupClient(baseURL string, client *http.Client) *HangupClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HangupClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Hangup asks the carrier to terminate callID.
func (h *HangupClient) Hangup(ctx context.Context, callID string) error {
	url := fmt.Sprintf("%s/api/tool/hangup/%s", h.baseURL, callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build hangup request: %v", ErrTransport, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: hangup %s: %v", ErrTransport, callID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: hangup %s: status %d: %s",
			ErrTransport, callID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
