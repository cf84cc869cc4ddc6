package logger

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupZapLogger(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SetupZapLogger(FileConfig{Dir: dir}))
	defer install(consoleSnapshot)

	Infof("[test] hello %s", "world")
	Errorw("[test] failed", "key", "value")
	Sync()

	b, err := os.ReadFile(filepath.Join(dir, "info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "[test] hello world")

	b, err = os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "key")
}

func TestDebugToggle(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHttpHandler(mux)
	defer func() { DebugEnabled = false }()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/log/debug/start", nil))
	assert.Equal(t, "OK", rec.Body.String())
	assert.True(t, IsDebugEnabled())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/log/debug/stop", nil))
	assert.False(t, IsDebugEnabled())
}
