package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".inkwell"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".inkwell", "settings.json"), []byte(body), 0644))
}

func TestInitialize_NoSettingsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	defer Close()

	// Production mode: no logs directory is created
	_, err := os.Stat(filepath.Join(dir, ".inkwell", "logs"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, IsDebugMode())
}

func TestInitialize_DebugMode(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"logging":{"debug_mode":true,"level":"debug"}}`)

	require.NoError(t, Initialize(dir))
	defer Close()

	assert.True(t, IsDebugMode())

	l := Get(CategoryRun)
	l.Info("run %s started", "r-123")
	l.Debug("debug detail")

	entries, err := os.ReadDir(filepath.Join(dir, ".inkwell", "logs"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestInitialize_RequiresWorkspace(t *testing.T) {
	err := Initialize("")
	assert.Error(t, err)
}

func TestIsCategoryEnabled_Filtering(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"logging":{"debug_mode":true,"level":"info","categories":{"run":true,"transport":false}}}`)

	require.NoError(t, Initialize(dir))
	defer Close()

	assert.True(t, IsCategoryEnabled(CategoryRun))
	assert.False(t, IsCategoryEnabled(CategoryTransport))
	// Unlisted categories default to enabled
	assert.True(t, IsCategoryEnabled(CategoryModel))
}

func TestGet_DisabledCategoryIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"logging":{"debug_mode":false}}`)

	require.NoError(t, Initialize(dir))
	defer Close()

	l := Get(CategoryStore)
	// Must not panic on a no-op logger
	l.Info("ignored")
	l.Error("ignored")
}
