package runners

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// HTTPConfig configures the http node.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Transport overrides the client transport, mainly for tests.
	Transport http.RoundTripper
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	return c
}

// runHTTP performs a request. Parameters: method, url, headers, query, body,
// body_encoding (json|form|text), timeout, tls_skip_verify, follow_redirects.
// Credentials may carry token (bearer) or username/password (basic).
//
// A missing url skips the node. Transport failures and statuses >= 400 fail it.
func (r *Registry) runHTTP(ctx context.Context, call *Call) (*engine.Outcome, error) {
	params := call.Params
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		call.Logf("No url configured, skipping request")
		return &engine.Outcome{Status: schema.StatusSkipped, Inputs: params, Output: map[string]any{"skipped": true}}, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return failed(call, "invalid url %q", rawURL), nil
	}
	if q := stringMapParam(params, "query"); len(q) > 0 {
		values := u.Query()
		for k, v := range q {
			values.Set(k, v)
		}
		u.RawQuery = values.Encode()
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	if !slices.Contains(httpMethods, method) {
		return failed(call, "unsupported method %q", method), nil
	}

	body, contentType, err := encodeBody(params)
	if err != nil {
		return failed(call, "encode body: %s", err.Error()), nil
	}

	timeout := durationParam(params, "timeout", r.http.DefaultTimeout)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), body)
	if err != nil {
		return failed(call, "build request: %s", err.Error()), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range stringMapParam(params, "headers") {
		req.Header.Set(k, v)
	}
	applyAuth(req, call.Credentials)

	call.Logf("Request: %s %s", method, u.Redacted())
	start := time.Now()
	resp, err := r.httpClient(params).Do(req)
	duration := time.Since(start)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return failed(call, "Request timeout after %s", timeout), nil
		}
		return failed(call, "request failed: %s", err.Error()), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, r.http.MaxResponseBody))
	if err != nil {
		return failed(call, "read response body: %s", err.Error()), nil
	}
	call.Logf("Response Status: %s (%dms)", resp.Status, duration.Milliseconds())

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	output := map[string]any{
		"status":      resp.StatusCode,
		"statusText":  http.StatusText(resp.StatusCode),
		"data":        decodeBody(raw, resp.Header.Get("Content-Type")),
		"headers":     headers,
		"duration_ms": duration.Milliseconds(),
	}

	out := succeeded(call, output)
	if resp.StatusCode >= 400 {
		out.Status = schema.StatusError
		out.Error = fmt.Sprintf("HTTP Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		call.Logf("Error: %s", out.Error)
	}
	return out, nil
}

func (r *Registry) httpClient(params map[string]any) *http.Client {
	transport := r.http.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if boolParam(params, "tls_skip_verify", false) {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		transport = t
	}
	client := &http.Client{Transport: transport}
	if !boolParam(params, "follow_redirects", true) {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func encodeBody(params map[string]any) (io.Reader, string, error) {
	raw, ok := params["body"]
	if !ok || raw == nil {
		return nil, "", nil
	}
	switch stringParam(params, "body_encoding", "json") {
	case "form":
		form, ok := raw.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("form body must be an object")
		}
		vals := url.Values{}
		for k, v := range form {
			vals.Set(k, fmt.Sprint(v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprint(raw)), "text/plain", nil
	default:
		if s, ok := raw.(string); ok {
			return strings.NewReader(s), "application/json", nil
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func decodeBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func applyAuth(req *http.Request, creds map[string]any) {
	if req.Header.Get("Authorization") != "" || len(creds) == 0 {
		return
	}
	if token := stringParam(creds, "token", ""); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	if user := stringParam(creds, "username", ""); user != "" {
		req.SetBasicAuth(user, stringParam(creds, "password", ""))
		return
	}
	if name := stringParam(creds, "header_name", ""); name != "" {
		req.Header.Set(name, stringParam(creds, "header_value", ""))
	}
}
