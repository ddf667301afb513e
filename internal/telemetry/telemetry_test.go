package telemetry_test

import (
	"context"
	"testing"

	"github.com/postgen/postgen/internal/config"
	"github.com/postgen/postgen/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_Stdout(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, Exporter: telemetry.ExporterStdout, ServiceName: "postgen-test"}
	shutdown, err := telemetry.Init(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, Exporter: "zipkin"}
	if _, err := telemetry.Init(context.Background(), cfg, "test"); err == nil {
		t.Error("Init() error = nil, want unsupported exporter")
	}
}
