package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Conversion.OverlapFrames != 16 {
		t.Fatalf("expected 16 overlap frames, got %d", cfg.Conversion.OverlapFrames)
	}
	if cfg.Profiles.F0.SampleRate != 44100 || cfg.Profiles.F0.Hop != 512 {
		t.Fatalf("unexpected f0 profile %+v", cfg.Profiles.F0)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_SOURCE_MODE", "exec")
	t.Setenv("LOQA_SOURCE_PROXY", "http://proxy:7890")
	t.Setenv("LOQA_CONVERSION_OVERLAP_FRAMES", "8")
	t.Setenv("LOQA_CONVERSION_CFG_RATE", "0.5")
	t.Setenv("LOQA_CONVERSION_FORMAT", "wav")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.RetentionMode != "persistent" || !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store overrides")
	}
	if cfg.Source.Mode != "exec" || cfg.Source.Proxy != "http://proxy:7890" {
		t.Fatalf("expected source overrides, got %+v", cfg.Source)
	}
	if cfg.Conversion.OverlapFrames != 8 {
		t.Fatalf("expected overlap override, got %d", cfg.Conversion.OverlapFrames)
	}
	if cfg.Conversion.CFGRate != 0.5 {
		t.Fatalf("expected cfg rate override, got %v", cfg.Conversion.CFGRate)
	}
	if cfg.Conversion.Format != "wav" {
		t.Fatalf("expected format override, got %s", cfg.Conversion.Format)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-vc.yaml")
	data := []byte(`runtime_name: vc-test
conversion:
  overlap_frames: 4
  format: pcm
profiles:
  plain:
    sample_rate: 16000
    hop: 160
    n_fft: 512
    win_length: 400
    mels: 40
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "vc-test" || cfg.Conversion.OverlapFrames != 4 || cfg.Conversion.Format != "pcm" {
		t.Fatalf("yaml values not applied: %+v", cfg.Conversion)
	}
	if cfg.Profiles.Plain.Hop != 160 || cfg.Profiles.F0.Hop != 512 {
		t.Fatalf("unexpected profiles %+v", cfg.Profiles)
	}
	if cfg.Conversion.EncoderHop != 320 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Conversion.EncoderHop)
	}
}

func TestValidateRejectsMisalignedEncoderOverlap(t *testing.T) {
	cfg := Default()
	cfg.Conversion.EncoderHop = 300
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for overlap not aligned to hop")
	}
}

func TestValidateRejectsBadProfile(t *testing.T) {
	cfg := Default()
	cfg.Profiles.Plain.NFFT = 1000
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for non power of two n_fft")
	}
}

func TestValidateRequiresModelCommand(t *testing.T) {
	cfg := Default()
	cfg.Models.Backend = "exec"
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for exec backend without command")
	}
	cfg.Models.Command = "python serve_models.py"
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
