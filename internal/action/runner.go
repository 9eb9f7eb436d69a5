package action

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// signatureHeader carries the request body's HMAC.
const signatureHeader = "signature"

// asyncRequestTimeout bounds fire-and-forget requests, which outlive the
// triggering turn's context.
const asyncRequestTimeout = 30 * time.Second

// Response is the action endpoint's reply, fed back to the LLM as the tool
// result. AgentMessage, when present and speak_on_receive is set, is played
// to the caller verbatim.
type Response struct {
	Success      bool   `json:"success"`
	Result       any    `json:"result"`
	AgentMessage string `json:"agent_message,omitempty"`
}

// Muter mutes and unmutes the agent's transcriber input around an in-flight
// action.
type Muter interface {
	Mute()
	Unmute()
}

// Runner dispatches external actions over HTTP.
type Runner struct {
	client *http.Client
	log    *slog.Logger
}

// Option configures a [Runner].
type Option func(*Runner)

// WithHTTPClient sets the HTTP client used for action requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		if c != nil {
			r.client = c
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a runner with a 30-second default client timeout.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs one action with the LLM-produced argument JSON.
//
// If muter is non-nil and the action's processing mode requests it, the
// agent is muted from dispatch until completion. Transport and endpoint
// failures come back as {success: false, result: null} rather than an error,
// so the conversation continues; only argument problems return an error
// (wrapping [ErrArgument]).
func (r *Runner) Execute(ctx context.Context, cfg Config, argumentsJSON string, muter Muter) (Response, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(argumentsJSON), &payload); err != nil {
		return Response{}, fmt.Errorf("%w: parse %s arguments: %v", ErrArgument, cfg.Name, err)
	}

	payload = ApplyFormats(payload, cfg.Formats(), cfg.ExtraContext(), r.log)
	pathParams, queryParams, bodyParams := partition(payload, cfg.ParameterLocations())

	requestURL, err := buildURL(cfg.URL, pathParams, queryParams)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s: %v", ErrArgument, cfg.Name, err)
	}

	body, err := encodeBody(bodyParams, cfg.WrapArguments)
	if err != nil {
		return Response{}, fmt.Errorf("%w: encode %s body: %v", ErrArgument, cfg.Name, err)
	}

	if muter != nil && cfg.ProcessingMode == MuteAgent {
		muter.Mute()
		defer muter.Unmute()
	}

	if cfg.AsyncExecution {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), asyncRequestTimeout)
			defer cancel()
			if _, ok := r.dispatch(ctx, cfg, requestURL, body); !ok {
				r.log.Warn("async action request failed",
					slog.String("action", cfg.Name), slog.String("url", requestURL))
			}
		}()
		return Response{Success: true, Result: map[string]any{"info": "success"}}, nil
	}

	resp, ok := r.dispatch(ctx, cfg, requestURL, body)
	if !ok {
		return Response{Success: false, Result: nil}, nil
	}
	return resp, nil
}

// dispatch sends the signed request and decodes the response. The bool is
// false for any transport, status, or decode failure.
func (r *Runner) dispatch(ctx context.Context, cfg Config, requestURL string, body []byte) (Response, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		r.log.Warn("building action request failed",
			slog.String("action", cfg.Name), slog.Any("error", err))
		return Response{}, false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(signatureHeader, sign(cfg.SignatureSecret, body))

	httpResp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("action request failed",
			slog.String("action", cfg.Name), slog.Any("error", err))
		return Response{}, false
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		r.log.Warn("action endpoint returned an error status",
			slog.String("action", cfg.Name),
			slog.Int("status", httpResp.StatusCode),
			slog.String("detail", string(detail)))
		return Response{}, false
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		r.log.Warn("decoding action response failed",
			slog.String("action", cfg.Name), slog.Any("error", err))
		return Response{}, false
	}
	return resp, true
}

// partition splits the payload into path, query, and body parameter maps.
// Parameters with no declared location default to the body.
func partition(payload map[string]any, locations map[string]string) (path, query, body map[string]any) {
	path = map[string]any{}
	query = map[string]any{}
	body = map[string]any{}
	for name, value := range payload {
		switch locations[name] {
		case "path":
			path[name] = value
		case "query":
			query[name] = value
		default:
			body[name] = value
		}
	}
	return path, query, body
}

// buildURL substitutes {name} path placeholders and appends the query
// string. A placeholder left unsubstituted is an argument error.
func buildURL(raw string, pathParams, queryParams map[string]any) (string, error) {
	u := raw
	for name, value := range pathParams {
		u = strings.ReplaceAll(u, "{"+name+"}", fmt.Sprintf("%v", value))
	}
	if start := strings.Index(u, "{"); start >= 0 {
		if end := strings.Index(u[start:], "}"); end > 0 {
			return "", fmt.Errorf("missing path parameter %q", u[start+1:start+end])
		}
	}

	if len(queryParams) > 0 {
		values := url.Values{}
		for name, value := range queryParams {
			values.Set(name, fmt.Sprintf("%v", value))
		}
		separator := "?"
		if strings.Contains(u, "?") {
			separator = "&"
		}
		u += separator + values.Encode()
	}
	return u, nil
}

// encodeBody serializes the body parameters, optionally wrapped in an
// {"args": payload} envelope.
func encodeBody(bodyParams map[string]any, wrap bool) ([]byte, error) {
	if wrap {
		return json.Marshal(map[string]any{"args": bodyParams})
	}
	return json.Marshal(bodyParams)
}

// sign computes the base64 HMAC-SHA256 of the body. Secrets are treated as
// base64 when they decode cleanly, raw bytes otherwise.
func sign(secret string, body []byte) string {
	key := []byte(secret)
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil {
		key = decoded
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
