package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gw123/gflow-sub001/internal/secrets"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Webhook auth modes, read from the webhook node's auth_type parameter.
const (
	authNone   = "none"
	authAPIKey = "api_key"
	authHMAC   = "hmac"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Timestamp"
	defaultMaxSkew         = 5 * time.Minute
)

var errUnauthorized = errors.New("unauthorized")

// webhookAuth is the authentication configured on a webhook node.
type webhookAuth struct {
	Type            string
	Secret          string
	SignatureHeader string
	TimestampHeader string
	MaxSkew         time.Duration
}

// authFor builds the auth config of node. Secrets given as *_secret_ref are
// read from the vault.
func authFor(ctx context.Context, vault secrets.Vault, node *schema.NodeDefinition) (*webhookAuth, error) {
	p := node.Parameters
	a := &webhookAuth{
		Type:            strings.ToLower(param(p, "auth_type", authNone)),
		SignatureHeader: param(p, "signature_header", defaultSignatureHeader),
		TimestampHeader: param(p, "timestamp_header", defaultTimestampHeader),
		MaxSkew:         defaultMaxSkew,
	}
	if ms, err := strconv.ParseInt(param(p, "max_skew_ms", ""), 10, 64); err == nil && ms > 0 {
		a.MaxSkew = time.Duration(ms) * time.Millisecond
	}

	var key string
	switch a.Type {
	case authNone, "":
		a.Type = authNone
		return a, nil
	case authAPIKey:
		key = "api_key"
	case authHMAC:
		key = "hmac_secret"
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "webhook node %s: unknown auth_type %q", node.Name, a.Type)
	}

	a.Secret = param(p, key, "")
	if ref := param(p, key+"_ref", ""); ref != "" {
		if vault == nil {
			return nil, schema.NewErrorf(schema.ErrCodeSecret, "webhook node %s: %s_ref set but no vault is configured", node.Name, key)
		}
		secret, err := secrets.Text(ctx, vault, ref)
		if err != nil {
			return nil, err
		}
		a.Secret = secret
	}
	if a.Secret == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "webhook node %s: %s is required for auth_type %s", node.Name, key, a.Type)
	}
	return a, nil
}

// Verify checks r against the configured auth. body is the raw request body.
func (a *webhookAuth) Verify(r *http.Request, body []byte, now time.Time) error {
	switch a.Type {
	case authAPIKey:
		got := r.Header.Get("X-API-Key")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if got == "" || !hmac.Equal([]byte(got), []byte(a.Secret)) {
			return fmt.Errorf("%w: invalid api key", errUnauthorized)
		}
	case authHMAC:
		sig := strings.TrimSpace(r.Header.Get(a.SignatureHeader))
		ts := r.Header.Get(a.TimestampHeader)
		if sig == "" || ts == "" {
			return fmt.Errorf("%w: missing signature or timestamp", errUnauthorized)
		}
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid timestamp", errUnauthorized)
		}
		if d := now.Sub(time.UnixMilli(ms)); d > a.MaxSkew || d < -a.MaxSkew {
			return fmt.Errorf("%w: timestamp out of range", errUnauthorized)
		}
		want := Sign(a.Secret, r.Method, r.URL.Path, ts, body)
		if !hmac.Equal([]byte(want), []byte(sig)) {
			return fmt.Errorf("%w: invalid signature", errUnauthorized)
		}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of method|path|timestamp|body, the
// signature expected by hmac-protected webhooks.
func Sign(secret, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + "|" + path + "|" + timestamp + "|"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func param(p map[string]any, key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}
