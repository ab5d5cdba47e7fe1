package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.yaml", "addr: \":9999\"\ncapture_fps: 4\nchange_threshold: 0.25\nsilence_ms: 700\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.CaptureFPS != 4 || cfg.ChangeThreshold != 0.25 || cfg.SilenceMS != 700 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.json", `{"ring_capacity": 20, "history_max": 5}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RingCapacity != 20 || cfg.HistoryMax != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.toml", "vad_aggressiveness = 3\nqueue_capacity = 16\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VADAggressiveness != 3 || cfg.QueueCapacity != 16 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.ini", "x=1")
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()
	d := Default()
	if cfg != d {
		t.Fatalf("normalized zero config differs from defaults:\n got %+v\nwant %+v", cfg, d)
	}
	// A set field survives normalization.
	cfg = Config{SilenceMS: 250}
	cfg.Normalize()
	if cfg.SilenceMS != 250 {
		t.Fatalf("normalize overwrote silence_ms: %d", cfg.SilenceMS)
	}
	if cfg.CaptureFPS != d.CaptureFPS {
		t.Fatalf("normalize missed capture_fps: %v", cfg.CaptureFPS)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	bad := Default()
	bad.VADAggressiveness = 7
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for vad_aggressiveness out of range")
	}
	bad = Default()
	bad.ChangeThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for change_threshold out of range")
	}
	bad = Default()
	bad.SilenceMS = bad.MaxSegmentMS
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for silence_ms >= max_segment_ms")
	}
}

func TestDerivedDurations(t *testing.T) {
	cfg := Default()
	if cfg.CaptureInterval() != 500*time.Millisecond {
		t.Fatalf("capture interval at 2 fps: %v", cfg.CaptureInterval())
	}
	if cfg.SilenceDuration() != 500*time.Millisecond {
		t.Fatalf("silence duration: %v", cfg.SilenceDuration())
	}
}
