package runners

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

func TestMySQLConfig(t *testing.T) {
	call := &Call{
		Params:      map[string]any{"host": "db.local", "database": "app"},
		Credentials: map[string]any{"user": "svc", "password": "pw", "port": 3307},
	}
	cfg, err := mysqlConfig(call)
	require.NoError(t, err)
	assert.Equal(t, "db.local:3307", cfg.Addr)
	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, "pw", cfg.Passwd)
	assert.Equal(t, "app", cfg.DBName)
	assert.NotContains(t, maskedDSN(cfg), "pw")
	assert.Equal(t, "pw", cfg.Passwd, "masking works on a copy")

	call = &Call{Params: map[string]any{}, Credentials: map[string]any{"dsn": "u:p@tcp(h:1)/d"}}
	cfg, err = mysqlConfig(call)
	require.NoError(t, err)
	assert.Equal(t, "h:1", cfg.Addr)
	assert.Equal(t, "d", cfg.DBName)
}

func TestReturnsRows(t *testing.T) {
	assert.True(t, returnsRows("select 1"))
	assert.True(t, returnsRows("  WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.True(t, returnsRows("SHOW TABLES"))
	assert.False(t, returnsRows("INSERT INTO t VALUES (1)"))
	assert.False(t, returnsRows(""))
}

func TestMySQL_MissingSQLFailsNode(t *testing.T) {
	r := newTestRegistry(t, Options{})
	res := runFlow(t, r, flow(start(nil), schema.NodeDefinition{Name: "Q", Type: "mysql"}), engine.RunOptions{})
	assert.Equal(t, schema.StatusError, res.Results["Q"].Status)
	assert.Contains(t, res.Results["Q"].Error, "requires a 'sql' parameter")
}
