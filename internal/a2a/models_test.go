package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskResultJSON(t *testing.T) {
	res := TaskResult{Status: StatusNeedsSupport, Summary: "Fix plan produced"}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"needs_support","summary":"Fix plan produced","details":{}}`, string(data))

	var back TaskResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StatusNeedsSupport, back.Status)
	assert.Equal(t, 0, back.Details.Len())
}

func TestTaskResultRejectsUnknownStatus(t *testing.T) {
	var res TaskResult
	err := json.Unmarshal([]byte(`{"status":"done","summary":"x"}`), &res)
	assert.ErrorContains(t, err, "invalid status")
}

func TestTaskResultContext(t *testing.T) {
	ctx := NewMap().Set("diagnosis", String("d"))
	res := TaskResult{Status: StatusOK, Details: NewMap().Set("context", MapOf(ctx))}
	assert.True(t, res.Context().Equal(ctx))

	res = TaskResult{Status: StatusOK, Details: NewMap().Set("context", String("not a map"))}
	assert.Nil(t, res.Context())
}

func TestDescriptorDefaults(t *testing.T) {
	var d AgentDescriptor
	require.NoError(t, json.Unmarshal([]byte(`{"id":"fixer","name":"Fixer","description":"x"}`), &d))
	assert.Equal(t, DefaultVersion, d.Version)
	assert.NotNil(t, d.Capabilities)
}

func TestTaskInputContextNull(t *testing.T) {
	data, err := json.Marshal(TaskInput{Logs: "l"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"logs":"l","context":null}`, string(data))

	var in TaskInput
	require.NoError(t, json.Unmarshal([]byte(`{"logs":"l","context":{"k":"v"}}`), &in))
	assert.Equal(t, "v", in.Context.GetString("k"))
}

func TestTaskChild(t *testing.T) {
	parent := Task{ID: "task-1", AgentID: "diagnoser"}
	child := parent.Child("fix", "fixer", TaskInput{Logs: "x"})
	assert.Equal(t, "task-1:fix", child.ID)
	assert.Equal(t, "fixer", child.AgentID)
}

func TestEventString(t *testing.T) {
	ev := NewEvent("t1", EventTaskStarted, "Task t1 started", nil)
	assert.Equal(t, "[task.started] Task t1 started", ev.String())
	assert.NotNil(t, ev.Data)
}
