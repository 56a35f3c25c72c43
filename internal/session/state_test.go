package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNINITIALIZED", Uninitialized.String())
	assert.Equal(t, "READY", Ready.String())
	assert.Equal(t, "FAILED", Failed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestStateTransitions(t *testing.T) {
	legal := []transition{
		{Uninitialized, Starting},
		{Starting, Ready},
		{Starting, Uninitialized},
		{Ready, Degraded},
		{Ready, Failed},
		{Degraded, Ready},
		{Degraded, Starting},
		{Failed, Starting},
		{Degraded, Uninitialized},
	}
	for _, tr := range legal {
		assert.Truef(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
	}

	illegal := []transition{
		{Uninitialized, Ready},
		{Uninitialized, Degraded},
		{Starting, Degraded},
		{Failed, Ready},
		{Failed, Degraded},
	}
	for _, tr := range illegal {
		assert.Falsef(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(Status{State: Degraded, Running: false})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"DEGRADED"`)
}
