package secrets

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Vault holds node credentials and the values behind secret("KEY").
// Values are encrypted at rest and decrypted in memory only.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore persists encrypted blobs. Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// defaultSalt is used when the vault key is a passphrase rather than a raw key.
var defaultSalt = []byte("gflow/vault/v1")

// ConfigFromKey turns the vault_key setting into a VaultConfig. A 64 character
// hex string is used as the raw key; anything else is a passphrase.
func ConfigFromKey(key string) VaultConfig {
	key = strings.TrimSpace(key)
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return VaultConfig{MasterKey: raw}
		}
	}
	return VaultConfig{Passphrase: key, Salt: defaultSalt}
}

// Text resolves key as a string.
func Text(ctx context.Context, v Vault, key string) (string, error) {
	b, err := v.Resolve(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Credential resolves a credential id to a field map. JSON objects are
// decoded; any other value is returned as {"value": "..."}.
func Credential(ctx context.Context, v Vault, id string) (map[string]any, error) {
	if v == nil {
		return nil, schema.NewErrorf(schema.ErrCodeSecret, "credential %q requested but no vault is configured", id)
	}
	b, err := v.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err == nil && fields != nil {
		return fields, nil
	}
	return map[string]any{"value": string(b)}, nil
}
