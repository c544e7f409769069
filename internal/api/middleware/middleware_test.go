package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUser(r.Context())))
	})
}

func TestUserExtractorPrecedence(t *testing.T) {
	h := UserExtractor(echoUser())

	cases := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"header wins", "/chat?user_id=query-user", "header-user", "header-user"},
		{"query param", "/chat?user_id=query-user", "", "query-user"},
		{"default", "/chat", "", AnonymousUser},
		{"blank header", "/chat", "   ", AnonymousUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				req.Header.Set("X-User-ID", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Body.String())
		})
	}
}

func TestLoggerCapturesStatus(t *testing.T) {
	var seen *responseWriter
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.(*responseWriter)
		http.Error(w, "nope", http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Logger(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotNil(t, seen)
	assert.Equal(t, http.StatusTeapot, seen.statusCode)
	assert.Equal(t, rec.Body.Len(), seen.bytes)
}

type hijackable struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackable) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriterHijack(t *testing.T) {
	inner := &hijackable{ResponseRecorder: httptest.NewRecorder()}
	rw := newResponseWriter(inner)

	_, _, err := rw.Hijack()
	require.NoError(t, err)
	assert.True(t, inner.hijacked)
	assert.Equal(t, http.StatusSwitchingProtocols, rw.statusCode)

	_, _, err = newResponseWriter(httptest.NewRecorder()).Hijack()
	assert.Error(t, err)
}
