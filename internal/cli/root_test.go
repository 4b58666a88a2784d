package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "graphwriter", cmd.Use)
	assert.Contains(t, cmd.Long, "single writer")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, path := range [][]string{{"serve"}, {"apply"}, {"config", "validate"}, {"config", "show"}} {
		t.Run(filepath.Join(path...), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, sub)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"addr", "db", "model"} {
		flag := serveCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue, "empty means use the config value")
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	opts := &RootOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", "log:\n  level: loud\n")
	opts := &RootOptions{ConfigPath: path}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
