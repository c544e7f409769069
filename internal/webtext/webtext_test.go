package webtext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Quarterly</h1><p>Revenue grew.</p></body></html>`))
	}))
	defer srv.Close()

	text, err := Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Quarterly")
	assert.Contains(t, text, "Revenue grew.")
	assert.NotContains(t, text, "<p>")
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just text"))
	}))
	defer srv.Close()

	text, err := Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "just text", text)
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}
