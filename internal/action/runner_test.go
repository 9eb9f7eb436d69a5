package action

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturedRequest struct {
	path      string
	rawQuery  string
	body      string
	headers   http.Header
	signature string
}

func captureServer(t *testing.T, respond string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.path = r.URL.Path
		captured.rawQuery = r.URL.RawQuery
		captured.body = string(body)
		captured.headers = r.Header.Clone()
		captured.signature = r.Header.Get("signature")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, respond)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func userLookupConfig(baseURL string) Config {
	return Config{
		Name: "user_lookup",
		URL:  baseURL + "/v1/users/{id}",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": "string"},
				"q":    map[string]any{"type": "string"},
				"body": map[string]any{"type": "string"},
			},
			"x-parameter-locations": map[string]any{
				"id": "path", "q": "query", "body": "body",
			},
		},
		SignatureSecret: "topsecret",
	}
}

func TestExecute_RoutesParametersByLocation(t *testing.T) {
	srv, captured := captureServer(t, `{"success":true,"result":{"found":true}}`)
	runner := NewRunner()

	resp, err := runner.Execute(context.Background(), userLookupConfig(srv.URL),
		`{"id":"7","q":"a b","body":"hi"}`, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Success {
		t.Errorf("success = false, want true")
	}

	if captured.path != "/v1/users/7" {
		t.Errorf("path = %q, want /v1/users/7", captured.path)
	}
	if captured.rawQuery != "q=a+b" {
		t.Errorf("query = %q, want q=a+b", captured.rawQuery)
	}
	if captured.body != `{"body":"hi"}` {
		t.Errorf("body = %q", captured.body)
	}
}

func TestExecute_WrapArgumentsEnvelope(t *testing.T) {
	srv, captured := captureServer(t, `{"success":true,"result":null}`)
	cfg := userLookupConfig(srv.URL)
	cfg.WrapArguments = true
	runner := NewRunner()

	if _, err := runner.Execute(context.Background(), cfg,
		`{"id":"7","body":"hi"}`, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if captured.body != `{"args":{"body":"hi"}}` {
		t.Errorf("body = %q", captured.body)
	}
}

func TestExecute_SignsBody(t *testing.T) {
	srv, captured := captureServer(t, `{"success":true,"result":null}`)
	runner := NewRunner()

	if _, err := runner.Execute(context.Background(), userLookupConfig(srv.URL),
		`{"id":"7","body":"hi"}`, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(captured.body))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if captured.signature != want {
		t.Errorf("signature = %q, want %q", captured.signature, want)
	}
}

func TestExecute_StaticHeadersSent(t *testing.T) {
	srv, captured := captureServer(t, `{"success":true,"result":null}`)
	cfg := userLookupConfig(srv.URL)
	cfg.Headers = map[string]string{"X-Tenant": "acme"}
	runner := NewRunner()

	if _, err := runner.Execute(context.Background(), cfg, `{"id":"1"}`, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if captured.headers.Get("X-Tenant") != "acme" {
		t.Errorf("X-Tenant header missing: %v", captured.headers)
	}
}

func TestExecute_AppliesFormatsBeforeDispatch(t *testing.T) {
	srv, captured := captureServer(t, `{"success":true,"result":null}`)
	cfg := Config{
		Name: "book",
		URL:  srv.URL + "/book",
		InputSchema: map[string]any{
			"type":      "object",
			"x-formats": map[string]any{"when": "epoch_s"},
		},
	}
	runner := NewRunner()

	if _, err := runner.Execute(context.Background(), cfg,
		`{"when":"2025-09-06T10:00:00Z"}`, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if captured.body != `{"when":1757152800}` {
		t.Errorf("body = %q", captured.body)
	}
}

func TestExecute_MissingPathParameter(t *testing.T) {
	runner := NewRunner()
	_, err := runner.Execute(context.Background(),
		userLookupConfig("https://example.com"), `{"q":"x"}`, nil)
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", err)
	}
	if !strings.Contains(err.Error(), "id") {
		t.Errorf("error should name the missing parameter: %v", err)
	}
}

func TestExecute_MalformedArguments(t *testing.T) {
	runner := NewRunner()
	_, err := runner.Execute(context.Background(),
		userLookupConfig("https://example.com"), `not json`, nil)
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("err = %v, want ErrArgument", err)
	}
}

func TestExecute_TransportFailureIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	runner := NewRunner()

	cfg := Config{Name: "down", URL: srv.URL + "/x"}
	resp, err := runner.Execute(context.Background(), cfg, `{}`, nil)
	if err != nil {
		t.Fatalf("transport failures must not error: %v", err)
	}
	if resp.Success || resp.Result != nil {
		t.Errorf("resp = %+v, want {false, nil}", resp)
	}
}

func TestExecute_ErrorStatusIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	runner := NewRunner()

	resp, err := runner.Execute(context.Background(), Config{Name: "e", URL: srv.URL}, `{}`, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Success {
		t.Errorf("resp = %+v, want failure", resp)
	}
}

func TestExecute_AsyncReturnsImmediately(t *testing.T) {
	hit := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(hit)
		io.WriteString(w, `{"success":true,"result":null}`)
	}))
	t.Cleanup(srv.Close)

	cfg := Config{Name: "notify", URL: srv.URL, AsyncExecution: true}
	runner := NewRunner()

	resp, err := runner.Execute(context.Background(), cfg, `{}`, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Success {
		t.Errorf("async response = %+v, want success", resp)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["info"] != "success" {
		t.Errorf("async result = %+v, want {info: success}", resp.Result)
	}

	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("async request never reached the endpoint")
	}
}

func TestExecute_AgentMessageSurfaced(t *testing.T) {
	srv, _ := captureServer(t, `{"success":true,"result":{},"agent_message":"Your booking is confirmed."}`)
	runner := NewRunner()

	resp, err := runner.Execute(context.Background(),
		Config{Name: "book", URL: srv.URL}, `{}`, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.AgentMessage != "Your booking is confirmed." {
		t.Errorf("agent_message = %q", resp.AgentMessage)
	}
}

// recordingMuter tracks mute state transitions.
type recordingMuter struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMuter) Mute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "mute")
}

func (m *recordingMuter) Unmute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "unmute")
}

func TestExecute_MutesAgentAroundDispatch(t *testing.T) {
	srv, _ := captureServer(t, `{"success":true,"result":null}`)
	cfg := Config{Name: "m", URL: srv.URL, ProcessingMode: MuteAgent}
	muter := &recordingMuter{}
	runner := NewRunner()

	if _, err := runner.Execute(context.Background(), cfg, `{}`, muter); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(muter.events) != 2 || muter.events[0] != "mute" || muter.events[1] != "unmute" {
		t.Errorf("muter events = %v, want [mute unmute]", muter.events)
	}
}

func TestExecute_DoNotMuteLeavesAgentAlone(t *testing.T) {
	srv, _ := captureServer(t, `{"success":true,"result":null}`)
	cfg := Config{Name: "m", URL: srv.URL, ProcessingMode: DoNotMute}
	muter := &recordingMuter{}
	runner := NewRunner()

	if _, err := runner.Execute(context.Background(), cfg, `{}`, muter); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(muter.events) != 0 {
		t.Errorf("muter events = %v, want none", muter.events)
	}
}
