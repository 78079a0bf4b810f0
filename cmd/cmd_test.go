package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "hf-gateway "+Version+"\n", out.String())
}

func TestServeRejectsInvalidPortOverride(t *testing.T) {
	err := Execute(context.Background(), []string{"serve", "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--port", "70000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid TCP port")
}

func TestServeRejectsMissingConfigFile(t *testing.T) {
	err := Execute(context.Background(), []string{"serve", "--env-file", "", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestServeLoadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HF_GATEWAY_TEST_PORT_MARKER=1\nREQUEST_TIMEOUT=abc\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("HF_GATEWAY_TEST_PORT_MARKER")
		os.Unsetenv("REQUEST_TIMEOUT")
	})

	err := Execute(context.Background(), []string{"serve", "--env-file", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
	assert.Equal(t, "1", os.Getenv("HF_GATEWAY_TEST_PORT_MARKER"))
}

func TestUnknownCommand(t *testing.T) {
	err := Execute(context.Background(), []string{"bogus"})
	assert.Error(t, err)
}
