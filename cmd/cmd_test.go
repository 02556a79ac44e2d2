package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietdv277/netlab/internal/config"
	"github.com/vietdv277/netlab/internal/ui"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configFile = ""
		credentialsFile = config.DefaultCredentialsFile
		awsProfile = ""
		configInitForce = false
		teardownYes = false
	})

	err := rootCmd.ExecuteContext(t.Context())
	closeLog()
	return buf.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "vpc_name: "+config.DefaultVPCName)
	assert.Contains(t, out, "wait_timeout: 10m0s")
}

func TestTeardown_RequiresTerminalWithoutYes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Save(config.Default(), path))

	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = orig })

	_, err := execute(t, "teardown", "--config", path)
	assert.ErrorIs(t, err, ui.ErrNotInteractive)
}

func TestCreate_MissingCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(config.Default(), path))

	_, err := execute(t, "create", "--config", path, "--credentials", filepath.Join(dir, "missing.cfg"))
	assert.ErrorContains(t, err, "credentials")
}

func TestTeardownTargets(t *testing.T) {
	targets := teardownTargets(config.Default())
	require.Len(t, targets, 3)
	assert.Contains(t, targets[0], config.DefaultNATName)
	assert.Contains(t, targets[2], config.DefaultVPCName)
}
