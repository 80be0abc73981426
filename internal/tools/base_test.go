package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunToolContractTests checks what every tool handed to an agent must
// satisfy: a callable name, a description the model can choose by and an
// object parameter schema.
func RunToolContractTests(t *testing.T, tool Tool) {
	t.Helper()

	t.Run("Contract/Name", func(t *testing.T) {
		assert.NotEmpty(t, tool.Name())
		assert.NotContains(t, tool.Name(), " ", "function names cannot contain spaces")
	})

	t.Run("Contract/Description", func(t *testing.T) {
		assert.NotEmpty(t, tool.Description())
	})

	t.Run("Contract/Parameters", func(t *testing.T) {
		p := tool.Parameters()
		require.NotNil(t, p)
		assert.Equal(t, "object", p["type"])
		assert.Contains(t, p, "properties")
	})

	t.Run("Contract/ToSchema", func(t *testing.T) {
		schema := ToSchema(tool)
		assert.Equal(t, "function", schema["type"])
		fn, ok := schema["function"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, tool.Name(), fn["name"])
		assert.Equal(t, tool.Description(), fn["description"])
		assert.Equal(t, tool.Parameters(), fn["parameters"])
	})
}

type stubTool struct{ name string }

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub " + s.name }
func (s stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s stubTool) Execute(context.Context, map[string]any) (string, error) { return s.name, nil }

func TestStubToolContract(t *testing.T) {
	RunToolContractTests(t, stubTool{name: "check_calendar"})
}

func TestSchemas_PreservesOrder(t *testing.T) {
	// agents list their tools in roster task order, not alphabetically
	schemas := Schemas([]Tool{stubTool{"zeta"}, stubTool{"alpha"}, stubTool{"mid"}})
	require.Len(t, schemas, 3)
	var names []string
	for _, s := range schemas {
		names = append(names, s["function"].(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
	assert.Empty(t, Schemas(nil))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{"book_demo"})
	r.Register(&EndpointTool{TaskName: "book_demo", TaskDesc: "second"})

	require.Len(t, r.All(), 1)
	assert.Equal(t, "second", r.Get("book_demo").Description())
	assert.Nil(t, r.Get("missing"))
}
