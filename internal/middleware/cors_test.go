package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCORSWithoutAllowListSendsNoHeaders(t *testing.T) {
	handler := CORS(nil)(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	handler := CORS([]string{"*", "http://localhost:5173/"})(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestOriginAllowed(t *testing.T) {
	check := OriginAllowed([]string{"http://localhost:5173"})

	cases := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin header", "", true},
		{"listed", "http://localhost:5173", true},
		{"listed different case", "HTTP://LOCALHOST:5173", true},
		{"same host", "http://chat.example", true},
		{"foreign", "http://evil.example", false},
		{"unparseable", "://", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://chat.example/live/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			require.Equal(t, tc.want, check(req))
		})
	}

	require.False(t, OriginAllowed(nil)(func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://chat.example/live/ws", nil)
		req.Header.Set("Origin", "http://evil.example")
		return req
	}()))
}
