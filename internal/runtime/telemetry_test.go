package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-vc/internal/config"
	"go.opentelemetry.io/otel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	shutdown, handler, err := setupTelemetry(config.Default(), testLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	if handler == nil {
		t.Fatal("expected a metrics handler")
	}

	counter, err := otel.Meter("runtime-test").Int64Counter("loqa.vc.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "loqa_vc_test_events") && !strings.Contains(body, "loqa.vc.test.events") {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
