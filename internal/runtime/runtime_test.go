package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-vc/internal/config"
)

func TestReadyzFollowsRuntimeState(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Enabled = false
	rt := New(cfg, testLogger())

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestReadyzRequiresBusWhenEnabled(t *testing.T) {
	rt := New(config.Default(), testLogger())
	rt.ready.Store(true)

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a bus connection, got %d", rec.Code)
	}
}

func TestNewPipelineWithMockModels(t *testing.T) {
	cfg := config.Default()
	cfg.Conversion.Format = "pcm"
	pipeline, models, err := NewPipeline(cfg, testLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	t.Cleanup(func() { _ = models.Close() })
	if pipeline.Format() != "pcm" {
		t.Fatalf("expected pcm sink, got %s", pipeline.Format())
	}
}
