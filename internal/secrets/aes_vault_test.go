package secrets

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// memStore is an in-memory SecretStore.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *memStore) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *memStore) ListSecrets(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestVault(t *testing.T) (*AESVault, *memStore) {
	t.Helper()
	s := newMemStore()
	v, err := NewAESVault(s, ConfigFromKey(strings.Repeat("ab", 32)))
	require.NoError(t, err)
	return v, s
}

func TestAESVault_RoundTrip(t *testing.T) {
	v, s := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "smtp", []byte("hunter2")))
	assert.NotContains(t, string(s.data["smtp"]), "hunter2", "stored blob is ciphertext")

	got, err := v.Resolve(ctx, "smtp")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(got))

	require.NoError(t, v.Store(ctx, "smtp", []byte("rotated")))
	text, err := Text(ctx, v, "smtp")
	require.NoError(t, err)
	assert.Equal(t, "rotated", text)
}

func TestAESVault_BlobsAreBoundToTheirKey(t *testing.T) {
	v, s := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("alpha")))
	s.data["b"] = s.data["a"]

	_, err := v.Resolve(ctx, "b")
	assert.True(t, schema.HasCode(err, schema.ErrCodeSecret))
}

func TestAESVault_WrongKey(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	v1, err := NewAESVault(s, VaultConfig{Passphrase: "one", Salt: []byte("salt"), Iterations: 1000})
	require.NoError(t, err)
	require.NoError(t, v1.Store(ctx, "k", []byte("v")))

	v2, err := NewAESVault(s, VaultConfig{Passphrase: "two", Salt: []byte("salt"), Iterations: 1000})
	require.NoError(t, err)
	_, err = v2.Resolve(ctx, "k")
	assert.True(t, schema.HasCode(err, schema.ErrCodeSecret))
}

func TestAESVault_DeleteAndList(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("1")))
	require.NoError(t, v.Store(ctx, "b", []byte("2")))
	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, v.Delete(ctx, "a"))
	_, err = v.Resolve(ctx, "a")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestAESVault_StoreRequiresKey(t *testing.T) {
	v, _ := newTestVault(t)
	err := v.Store(context.Background(), "", []byte("x"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestNewAESVault_BadConfig(t *testing.T) {
	for name, cfg := range map[string]VaultConfig{
		"short master key":   {MasterKey: []byte("short")},
		"nothing":            {},
		"passphrase no salt": {Passphrase: "p"},
	} {
		_, err := NewAESVault(newMemStore(), cfg)
		assert.True(t, schema.HasCode(err, schema.ErrCodeSecret), name)
	}
}

func TestConfigFromKey(t *testing.T) {
	hexKey := strings.Repeat("0f", 32)
	cfg := ConfigFromKey(hexKey)
	assert.Len(t, cfg.MasterKey, 32)
	assert.Empty(t, cfg.Passphrase)

	cfg = ConfigFromKey("correct horse battery staple")
	assert.Nil(t, cfg.MasterKey)
	assert.Equal(t, "correct horse battery staple", cfg.Passphrase)
	assert.NotEmpty(t, cfg.Salt)

	cfg = ConfigFromKey(strings.Repeat("z", 64))
	assert.Nil(t, cfg.MasterKey, "64 chars that are not hex are a passphrase")
}

func TestCredential(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "db", []byte(`{"dsn":"user:pw@tcp(db:3306)/app"}`)))
	require.NoError(t, v.Store(ctx, "token", []byte("abc")))

	fields, err := Credential(ctx, v, "db")
	require.NoError(t, err)
	assert.Equal(t, "user:pw@tcp(db:3306)/app", fields["dsn"])

	fields, err = Credential(ctx, v, "token")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": "abc"}, fields)

	_, err = Credential(ctx, nil, "db")
	assert.True(t, schema.HasCode(err, schema.ErrCodeSecret))
}
