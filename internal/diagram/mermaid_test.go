package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

func TestRenderMermaidLinear(t *testing.T) {
	m, err := Build(linearWorkflow(), nil)
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.Contains(t, out, "graph TD\n")
	assert.Contains(t, out, "%% ETL Pipeline")
	assert.Contains(t, out, `n0_Start(("Start<br/>manual"))`)
	assert.Contains(t, out, `n1_Fetch["Fetch<br/>http"]`)
	assert.Contains(t, out, `n3_Reply>"Reply<br/>response"]`)
	assert.Contains(t, out, "n0_Start --> n1_Fetch")
	assert.NotContains(t, out, "class n0_Start")
}

func TestRenderMermaidGuardedEdges(t *testing.T) {
	m, err := Build(branchingWorkflow(), nil)
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.Contains(t, out, `n1_Check{"Check<br/>if"}`)
	assert.Contains(t, out, `n2_Ask[/"Ask<br/>interaction"/]`)
	assert.Contains(t, out, `n1_Check -.->|"$P.amount > 100"| n2_Ask`)
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	state := schema.NewExecutionState()
	state.NodeResults["Start"] = &schema.NodeExecutionResult{Status: schema.StatusSuccess}
	state.NodeResults["Fetch"] = &schema.NodeExecutionResult{Status: schema.StatusError}

	m, err := Build(linearWorkflow(), state)
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.Contains(t, out, "class n0_Start success")
	assert.Contains(t, out, "class n1_Fetch error")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "Send_mail_", mermaidSafeID("Send mail!"))
	assert.Equal(t, "a_b_c", mermaidSafeID("a.b-c"))
	assert.Equal(t, "it's", mermaidEscapeLabel(`it"s`))
}
