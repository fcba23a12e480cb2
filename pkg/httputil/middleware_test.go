package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
)

func TestRequestIDMiddleware(t *testing.T) {
	var requestID, clientIP, userAgent string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = contextkeys.GetRequestID(r.Context())
		clientIP = contextkeys.GetClientIP(r.Context())
		userAgent = contextkeys.GetUserAgent(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "198.51.100.4:52100"
		req.Header.Set("User-Agent", "warden-test")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Len(t, requestID, 36)
		assert.Equal(t, requestID, w.Header().Get(RequestIDHeader))
		assert.Equal(t, "198.51.100.4", clientIP)
		assert.Equal(t, "warden-test", userAgent)
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "abc", requestID)
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:1", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.10"}, "10.0.0.2:1", "203.0.113.10"},
		{"peer", nil, "192.0.2.1:4000", "192.0.2.1"},
		{"peer without port", nil, "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	handler := Chain(RequestIDMiddleware, LoggingMiddleware(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest("GET", "/v1/tenants", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"path":"/v1/tenants"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.ErrorLevel, &buf)

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, strings.Contains(buf.String(), "kaboom"))
}

func TestMaxBytesMiddleware(t *testing.T) {
	var parseErr error
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dest map[string]string
		parseErr = ParseJSON(r, &dest)
	}))

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name": "much too long"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Error(t, parseErr)
}
