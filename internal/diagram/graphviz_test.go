package diagram

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

func TestRenderImagePNG(t *testing.T) {
	model, err := Build(linearWorkflow(), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, graphviz.PNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImageSVGWithStatus(t *testing.T) {
	state := schema.NewExecutionState()
	state.NodeResults["Hook"] = &schema.NodeExecutionResult{Status: schema.StatusSuccess}
	state.NodeResults["Deny"] = &schema.NodeExecutionResult{Status: schema.StatusSkipped}

	model, err := Build(branchingWorkflow(), state)
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, graphviz.SVG)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(svg, []byte("<svg")))
	assert.True(t, bytes.Contains(svg, []byte("Check")))
}
