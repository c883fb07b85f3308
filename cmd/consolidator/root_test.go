package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/simulation"
)

var smallScenario = filepath.Join("..", "..", "internal", "simulation", "testdata", "small.yaml")

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
}

func TestSimulateCmd_JSON(t *testing.T) {
	out, err := execute(t, "simulate", "--scenario", smallScenario, "--json", "--log-level", "error")
	require.NoError(t, err)

	var sum simulation.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "small", sum.Environment)
	assert.Equal(t, "MM0.80-0.20", sum.Policy)
	assert.Equal(t, 3600.0, sum.SimTime)
	assert.Greater(t, sum.EnergyKWh, 0.0)
}

func TestSimulateCmd_Compare(t *testing.T) {
	out, err := execute(t, "simulate", "--scenario", smallScenario, "--compare", "--upper", "0.9", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "(MM0.90-0.20)")
	assert.Contains(t, out, "(THR0.90)")
}

func TestSimulateCmd_InvalidThresholds(t *testing.T) {
	_, err := execute(t, "simulate", "--scenario", smallScenario, "--upper", "0.1", "--lower", "0.5", "--log-level", "error")
	require.Error(t, err)
}

func TestSimulateCmd_Placement(t *testing.T) {
	out, err := execute(t, "simulate", "--scenario", smallScenario, "--placement", "spread", "--json", "--log-level", "error")
	require.NoError(t, err)

	var sum simulation.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "small", sum.Environment)

	_, err = execute(t, "simulate", "--scenario", smallScenario, "--placement", "random", "--log-level", "error")
	require.Error(t, err)
}

func TestTokenCmd(t *testing.T) {
	out, err := execute(t, "token", "--operator", "alice", "--role", "operator", "--log-level", "error")
	require.NoError(t, err)

	var tok map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	assert.Equal(t, "Bearer", tok["token_type"])
	assert.NotEmpty(t, tok["access_token"])

	_, err = execute(t, "token", "--operator", "alice", "--role", "root", "--log-level", "error")
	require.Error(t, err)
}
