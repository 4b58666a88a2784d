package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphwriter/internal/config"
)

const validConfig = `
processor:
  interval: 250ms
  max_operations_per_cycle: 5
server:
  addr: 127.0.0.1:9000
log:
  level: debug
`

func TestConfigValidate_Valid(t *testing.T) {
	path := writeFile(t, "graphwriter.yaml", validConfig)

	out, _, err := execute(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
}

func TestConfigValidate_ValidJSON(t *testing.T) {
	path := writeFile(t, "graphwriter.yaml", validConfig)

	out, _, err := execute(t, "--format", "json", "config", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   ConfigCheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, path, resp.Data.Path)
}

func TestConfigValidate_UsesConfigFlag(t *testing.T) {
	path := writeFile(t, "graphwriter.yaml", validConfig)

	out, _, err := execute(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, path)
}

func TestConfigValidate_ReportsEveryProblem(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
processor:
  max_operations_per_cycle: 0
log:
  format: xml
`)

	out, _, err := execute(t, "config", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "configuration problem(s)")
	assert.Contains(t, out, "configuration is invalid")
	assert.Contains(t, out, "processor.max_operations_per_cycle")
	assert.Contains(t, out, "log.format")
}

func TestConfigValidate_InvalidJSON(t *testing.T) {
	path := writeFile(t, "bad.yaml", "log:\n  level: loud\n")

	out, _, err := execute(t, "--format", "json", "config", "validate", path)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no file", []string{"config", "validate"}, ExitCommandError},
		{"missing file", []string{"config", "validate", filepath.Join(t.TempDir(), "nope.yaml")}, ExitCommandError},
		{"unknown field", []string{"config", "validate", writeFile(t, "x.yaml", "bogus: 1\n")}, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestConfigShow_RoundTrips(t *testing.T) {
	path := writeFile(t, "graphwriter.yaml", validConfig)

	out, _, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 250ms")

	parsed, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 5, parsed.Processor.MaxOperationsPerCycle)
	assert.Equal(t, "127.0.0.1:9000", parsed.Server.Addr)
}

func TestConfigShow_Defaults(t *testing.T) {
	out, _, err := execute(t, "config", "show")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "processor")
	assert.Contains(t, doc, "idempotency")

	parsed, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), parsed)
}
