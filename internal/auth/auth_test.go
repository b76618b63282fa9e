package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	handler := Middleware(Config{Enabled: false})(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/exposure", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestMiddlewareEnabled(t *testing.T) {
	handler := Middleware(Config{Enabled: true, Token: "secret"})(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/api/v1/exposure", "", http.StatusUnauthorized},
		{"wrong token", "/api/v1/exposure", "Bearer nope", http.StatusUnauthorized},
		{"missing scheme", "/api/v1/exposure", "secret", http.StatusUnauthorized},
		{"valid token", "/api/v1/exposure", "Bearer secret", http.StatusOK},
		{"healthz exempt", "/healthz", "", http.StatusOK},
		{"readyz exempt", "/readyz", "", http.StatusOK},
		{"metrics exempt", "/metrics", "", http.StatusOK},
		{"frontend root exempt", "/", "", http.StatusOK},
		{"frontend script exempt", "/app.js", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
