package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOperationTask(t *testing.T) {
	p := OperationPayload{Operation: "collect", Region: "EU", Collections: []string{"game"}}
	tk, err := NewOperationTask(p)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeFleetOperation, tk.Type())

	var got OperationPayload
	require.NoError(t, json.Unmarshal(tk.Payload(), &got))
	assert.Equal(t, p, got)
}

func TestNewOperationTaskRequiresOperation(t *testing.T) {
	_, err := NewOperationTask(OperationPayload{Operation: "  "})
	assert.EqualError(t, err, "operation is required")
}

func TestNewHookTask(t *testing.T) {
	tk, err := NewHookTask(HookPayload{Command: "systemctl reload hlds", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeHookCommand, tk.Type())
	assert.JSONEq(t, `{"command":"systemctl reload hlds","run_id":"run-1"}`, string(tk.Payload()))
}
