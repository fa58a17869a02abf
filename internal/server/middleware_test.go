package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		expectedStatus int
		shouldCallNext bool
	}{
		{name: "GET request", corsOrigin: "*", method: http.MethodGet, expectedStatus: http.StatusOK, shouldCallNext: true},
		{name: "POST with specific origin", corsOrigin: "https://example.com", method: http.MethodPost, expectedStatus: http.StatusOK, shouldCallNext: true},
		{name: "OPTIONS preflight", corsOrigin: "*", method: http.MethodOptions, expectedStatus: http.StatusOK, shouldCallNext: false},
		{name: "empty origin", corsOrigin: "", method: http.MethodGet, expectedStatus: http.StatusOK, shouldCallNext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}

			nextCalled := false
			next := func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}

			w := httptest.NewRecorder()
			server.corsMiddleware(next)(w, httptest.NewRequest(tt.method, "/health", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.corsOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, tt.shouldCallNext, nextCalled)
		})
	}
}

func TestServer_CORSMiddleware_ErrorInNext(t *testing.T) {
	server := &Server{corsOrigin: "*"}
	next := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	w := httptest.NewRecorder()
	server.corsMiddleware(next)(w, httptest.NewRequest(http.MethodPost, "/register", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	server := &Server{rateLimiter: NewRateLimiter(2, 0, 0, 0)}
	calls := 0
	handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for range 2 {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/register", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodPost, "/register", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	// Another client is counted separately.
	req := httptest.NewRequest(http.MethodPost, "/register", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimitMiddleware_DataQuota(t *testing.T) {
	server := &Server{rateLimiter: NewRateLimiter(0, 0, 0, 10)}
	handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(strings.Repeat("x", 64)))
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "data", w.Header().Get("X-Quota-Type"))
	assert.Equal(t, "10", w.Header().Get("X-Quota-Limit"))
}

func TestServer_RateLimitMiddleware_Disabled(t *testing.T) {
	server := &Server{}
	called := false
	server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) { called = true })(
		httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/register", nil))
	assert.True(t, called)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded list", headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, remote: "10.0.0.2:1234", want: "198.51.100.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.2 "}, remote: "10.0.0.2:1234", want: "198.51.100.2"},
		{name: "remote addr", remote: "192.0.2.7:5555", want: "192.0.2.7"},
		{name: "remote without port", remote: "192.0.2.8", want: "192.0.2.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func BenchmarkServer_CORSMiddleware(b *testing.B) {
	server := &Server{corsOrigin: "*"}
	handler := server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for range b.N {
		handler(httptest.NewRecorder(), req)
	}
}
