package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_DeltaFragments(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Begin(IndexKey(0), "call_1", "get_weather")
	acc.AppendArguments(IndexKey(0), `{"city"`)
	acc.AppendArguments(IndexKey(0), `:"Paris"}`)

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, calls[0].Arguments)
}

func TestAccumulator_LateNameAndID(t *testing.T) {
	acc := NewAccumulator(nil)

	// Chat-completions vendors often send only the index on later chunks.
	acc.Begin(IndexKey(0), "", "")
	acc.AppendArguments(IndexKey(0), `{"pa`)
	acc.Begin(IndexKey(0), "call_9", "list_files")
	acc.AppendArguments(IndexKey(0), `th":"/tmp"}`)

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_9", calls[0].ID)
	assert.Equal(t, "list_files", calls[0].Name)
	assert.JSONEq(t, `{"path":"/tmp"}`, calls[0].Arguments)
}

func TestAccumulator_IdempotentCompletion(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Complete(CompletedCall{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`})
	acc.Complete(CompletedCall{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Lyon"}`})

	calls := acc.Finalize()
	require.Len(t, calls, 1, "duplicate completion events must not duplicate entries")
	assert.JSONEq(t, `{"city":"Lyon"}`, calls[0].Arguments, "last write wins")
}

func TestAccumulator_MalformedArgumentsDegrade(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Begin(IndexKey(0), "call_1", "broken")
	acc.AppendArguments(IndexKey(0), `{"unterminated`)

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "{}", calls[0].Arguments, "malformed fragments degrade to empty arguments")
}

func TestAccumulator_ZeroArgumentTool(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Complete(CompletedCall{ID: "call_2", Name: "get_time"})

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "{}", calls[0].Arguments)
}

func TestAccumulator_GeneratedID(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Complete(CompletedCall{Name: "lookup", Arguments: `{"q":"x"}`})

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID, "missing vendor id gets a generated one")
}

func TestAccumulator_OrderPreserved(t *testing.T) {
	acc := NewAccumulator(nil)

	acc.Begin(IndexKey(1), "call_b", "second")
	acc.Begin(IndexKey(0), "call_a", "first")
	acc.AppendArguments(IndexKey(0), `{}`)
	acc.AppendArguments(IndexKey(1), `{}`)

	calls := acc.Finalize()
	require.Len(t, calls, 2)
	assert.Equal(t, "second", calls[0].Name, "first-seen order, not index order")
	assert.Equal(t, "first", calls[1].Name)
}
