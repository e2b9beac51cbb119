package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/bridgetrace/internal/propagation"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type propagateOutput struct {
	Scores         map[string]float64 `json:"scores"`
	DominantSource map[string]string  `json:"dominant_source"`
}

func TestPropagateReferenceGraph(t *testing.T) {
	out, err := runCLI(t, "propagate", "--seed", "wallet_sanctioned_01=0.92", "--hops", "2")
	require.NoError(t, err)

	var res propagateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 0.92, res.Scores["wallet_sanctioned_01"])
	assert.Equal(t, 0.621, res.Scores["mixer_01"])
	assert.Equal(t, 0.3959, res.Scores["entity_001"])
	assert.Equal(t, 0.0, res.Scores["merchant_991"], "outside the hop budget")
	assert.Equal(t, "wallet_sanctioned_01", res.DominantSource["entity_001"])
}

func TestPropagateGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	fixture := `{
  "nodes": [{"id": "A"}, {"id": "B"}, {"id": "C"}],
  "edges": [
    {"source": "A", "target": "B", "risk_transfer": 1.0},
    {"source": "B", "target": "C", "risk_transfer": 1.0}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	out, err := runCLI(t, "propagate", "--graph", path, "--seed", "A=1.0", "--hops", "3", "--decay", "0.5")
	require.NoError(t, err)

	var res propagateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, map[string]float64{"A": 1, "B": 0.5, "C": 0.25}, res.Scores)
}

func TestPropagateRejectsBadInput(t *testing.T) {
	_, err := runCLI(t, "propagate", "--seed", "A")
	assert.Error(t, err)

	_, err = runCLI(t, "propagate", "--seed", "wallet_sanctioned_01=0.9", "--decay", "1.5")
	assert.ErrorIs(t, err, propagation.ErrInvalidConfig)

	_, err = runCLI(t, "propagate")
	assert.Error(t, err, "--seed is required")
}

func TestParseSeeds(t *testing.T) {
	seeds, err := parseSeeds([]string{"A=1", "key=with=eq=0.5"})
	require.NoError(t, err)
	assert.Equal(t, propagation.Seeds{{Node: "A", Score: 1}, {Node: "key=with=eq", Score: 0.5}}, seeds)

	for _, bad := range []string{"", "=1", "A=", "A=x"} {
		_, err := parseSeeds([]string{bad})
		assert.Error(t, err, bad)
	}
}
