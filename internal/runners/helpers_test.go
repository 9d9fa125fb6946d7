package runners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// mapVault is an in-memory secrets.Vault.
type mapVault map[string]string

func (v mapVault) Resolve(_ context.Context, key string) ([]byte, error) {
	s, ok := v[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return []byte(s), nil
}

func (v mapVault) Store(_ context.Context, key string, value []byte) error {
	v[key] = string(value)
	return nil
}

func (v mapVault) Delete(_ context.Context, key string) error {
	delete(v, key)
	return nil
}

func (v mapVault) List(context.Context) ([]string, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry(opts)
	require.NoError(t, err)
	return r
}

func flow(nodes ...schema.NodeDefinition) *schema.WorkflowDefinition {
	wf := &schema.WorkflowDefinition{Name: "test", Nodes: nodes, Connections: map[string][]schema.BranchGroup{}}
	for i := 1; i < len(nodes); i++ {
		from := nodes[i-1].Name
		wf.Connections[from] = []schema.BranchGroup{{{Node: nodes[i].Name}}}
	}
	return wf
}

func runFlow(t *testing.T, r *Registry, wf *schema.WorkflowDefinition, opts engine.RunOptions) *engine.RunResult {
	t.Helper()
	res, err := engine.New(wf, r, r.Conditions()).Run(context.Background(), engine.ModeRun, opts)
	require.NoError(t, err)
	return res
}

func start(params map[string]any) schema.NodeDefinition {
	return schema.NodeDefinition{Name: "Start", Type: schema.NodeTypeManual, Parameters: params}
}
