package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentoven/conductor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Load()
	cfg.Store = config.StoreConfig{Driver: "memory"}
	cfg.Models.OpenAIKey = ""
	cfg.Models.AnthropicKey = ""
	cfg.Models.LocalAIBaseURL = ""
	cfg.Query.PgvectorDSN = ""
	cfg.Query.SQLDSN = ""
	cfg.Tools.SMTPAddr = ""
	cfg.Telemetry.Enabled = false
	cfg.Notify.WebhookURLs = nil
	cfg.Agents.File = ""
	cfg.Retention.ArchiveDir = t.TempDir()
	return cfg
}

func TestNewServesHealthAndTools(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer srv.Close(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "query_engine")
	assert.Contains(t, rec.Body.String(), "calendar")
	assert.NotContains(t, rec.Body.String(), "send_email")
}

func TestSQLiteStoreAndSeededEngine(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Store = config.StoreConfig{Driver: "sqlite", SQLitePath: dir + "/conductor.db"}
	cfg.Query.SQLDriver = "sqlite"
	cfg.Query.SQLDSN = dir + "/data.db"

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Close(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query/engine", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), defaultSQLEngine)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	assert.Contains(t, rec.Body.String(), "sql_query")
}

func TestUnknownStoreDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "cassandra"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStartStopsWithContext(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer srv.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
