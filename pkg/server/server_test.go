package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/pkg/models"
	"github.com/postgen/postgen/pkg/server"
)

func TestNewWithConfig_SQLiteLedger(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Port:    8080,
		Version: "test",
		LLM:     config.LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash-lite"},
		Store:   config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "usage.db")},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	srv, err := server.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	t.Cleanup(func() {
		srv.ShutdownFunc(ctx)
		srv.Store.Close()
	})

	if err := srv.Store.RecordUsage(ctx, &models.UsageRecord{Model: "m", Topic: "t"}); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", w.Code)
	}
}
