package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/postgen/postgen/internal/api/middleware"
	"github.com/postgen/postgen/internal/ratelimit"
)

func captureKey(got *string) http.Handler {
	return middleware.ProviderKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = middleware.GetProviderKey(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestProviderKey_Headers(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"x-api-key", "X-API-Key", "AIza-test-1", "AIza-test-1"},
		{"bearer", "Authorization", "Bearer sk-test-2", "sk-test-2"},
		{"basic ignored", "Authorization", "Basic abc", ""},
		{"blank", "X-API-Key", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			req := httptest.NewRequest(http.MethodPost, "/generate", nil)
			req.Header.Set(tt.header, tt.value)
			captureKey(&got).ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("GetProviderKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderKey_XAPIKeyWins(t *testing.T) {
	var got string
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.Header.Set("X-API-Key", "header-key")
	req.Header.Set("Authorization", "Bearer bearer-key")
	captureKey(&got).ServeHTTP(httptest.NewRecorder(), req)

	if got != "header-key" {
		t.Errorf("GetProviderKey() = %q, want %q", got, "header-key")
	}
}

func TestMaskKey(t *testing.T) {
	if got := middleware.MaskKey("AIzaSyABCDEF1234"); got != "****1234" {
		t.Errorf("MaskKey() = %q, want %q", got, "****1234")
	}
	if got := middleware.MaskKey("abc"); got != "****" {
		t.Errorf("MaskKey() = %q, want %q", got, "****")
	}
}

func TestRateLimit(t *testing.T) {
	l := ratelimit.New(2, time.Minute, 10)
	handler := middleware.RateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := send("10.0.0.1:5000"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := send("10.0.0.1:5001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	if w := send("10.0.0.2:5000"); w.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimit_NilDisables(t *testing.T) {
	handler := middleware.RateLimit(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
