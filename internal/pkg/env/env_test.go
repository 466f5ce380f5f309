package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GYMSITE_TEST_FROM_FILE=file\nGYMSITE_TEST_OVERRIDE=file\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("GYMSITE_TEST_OVERRIDE", "process")

	assert.Equal(t, ".env", SetupEnvFile())
	assert.Equal(t, "file", GetEnv("GYMSITE_TEST_FROM_FILE", "def"))
	assert.Equal(t, "process", GetEnv("GYMSITE_TEST_OVERRIDE", "def"))
	assert.Equal(t, "def", GetEnv("GYMSITE_TEST_MISSING", "def"))
	t.Cleanup(func() { _ = os.Unsetenv("GYMSITE_TEST_FROM_FILE") })
}

func TestSetupEnvFile_Missing(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.Equal(t, "", SetupEnvFile())
}
