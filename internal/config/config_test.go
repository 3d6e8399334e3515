package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
}

func TestPipelineConversionRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Pipeline()

	if p.Power.GlitchThreshold != cfg.Power.GlitchThreshold {
		t.Errorf("power glitch threshold not carried: %d", p.Power.GlitchThreshold)
	}
	if p.Classifier.CriticalThreshold != cfg.Classifier.CriticalThreshold {
		t.Errorf("critical threshold not carried: %d", p.Classifier.CriticalThreshold)
	}
	if p.Recovery.Modules != cfg.Recovery.Modules {
		t.Errorf("recovery module mask not carried: %#x", p.Recovery.Modules)
	}
	if p.Classifier.Weights.PrivEscalation == 0 {
		t.Error("classifier weights not populated")
	}
}

func TestSaveAndLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwsentinel.toml")

	cfg := DefaultConfig()
	cfg.Power.GlitchThreshold = 750
	cfg.Forensic.Slots = 32
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Power.GlitchThreshold != 750 {
		t.Errorf("expected glitch threshold 750, got %d", loaded.Power.GlitchThreshold)
	}
	if loaded.Forensic.Slots != 32 {
		t.Errorf("expected 32 forensic slots, got %d", loaded.Forensic.Slots)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwsentinel.toml")
	partial := `
version = 1

[thermal]
spike_threshold = 95
`
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Thermal.SpikeThreshold != 95 {
		t.Errorf("expected spike threshold 95, got %d", cfg.Thermal.SpikeThreshold)
	}
	def := DefaultConfig()
	if cfg.Thermal.RegionHigh != def.Thermal.RegionHigh {
		t.Errorf("untouched field lost default: %d", cfg.Thermal.RegionHigh)
	}
	if cfg.Power.GlitchThreshold != def.Power.GlitchThreshold {
		t.Errorf("other section lost default: %d", cfg.Power.GlitchThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "zero shift",
			mutate:  func(c *Config) { c.Power.Shift = 0 },
			wantErr: ErrBadShift,
		},
		{
			name:    "oversized shift",
			mutate:  func(c *Config) { c.Thermal.Shift = 31 },
			wantErr: ErrBadShift,
		},
		{
			name:    "non-ascending thresholds",
			mutate:  func(c *Config) { c.Classifier.MediumThreshold = c.Classifier.HighThreshold },
			wantErr: ErrBadThresholds,
		},
		{
			name:    "zero fusion window",
			mutate:  func(c *Config) { c.Fusion.WindowTicks = 0 },
			wantErr: ErrBadWindow,
		},
		{
			name:    "zero forensic slots",
			mutate:  func(c *Config) { c.Forensic.Slots = 0 },
			wantErr: ErrBadSlots,
		},
		{
			name:    "bad throttle divider",
			mutate:  func(c *Config) { c.Response.ThrottleDiv = 3 },
			wantErr: ErrBadDivider,
		},
		{
			name:    "bad archive type",
			mutate:  func(c *Config) { c.Archive.Type = "postgres" },
			wantErr: ErrBadArchive,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, test.wantErr) {
				t.Errorf("expected %v, got %v", test.wantErr, err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HWSENTINEL_LOG_LEVEL", "debug")
	t.Setenv("HWSENTINEL_ARCHIVE_PATH", "/tmp/incidents.db")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Logging.Level)
	}
	if cfg.Archive.Path != "/tmp/incidents.db" {
		t.Errorf("expected override path, got %s", cfg.Archive.Path)
	}
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwsentinel.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected created=true for missing file")
	}
	if cfg.Version != Version {
		t.Errorf("unexpected version: %d", cfg.Version)
	}

	// Second call must read the file it just wrote.
	cfg2, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (second): %v", err)
	}
	if created {
		t.Error("expected created=false for existing file")
	}
	if cfg2.Power.GlitchThreshold != cfg.Power.GlitchThreshold {
		t.Error("round-tripped config differs")
	}
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hwsentinel.toml")

	cfg := DefaultConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	defer l.Close()

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := l.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	cfg.Power.GlitchThreshold = 999
	if err := cfg.Save(path); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case newCfg := <-changed:
		if newCfg.Power.GlitchThreshold != 999 {
			t.Errorf("reloaded config stale: %d", newCfg.Power.GlitchThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}

func TestReloadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwsentinel.toml")

	cfg := DefaultConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	defer l.Close()

	bad := DefaultConfig()
	bad.Power.Shift = 0
	if err := bad.Save(path); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := l.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// The invalid file must never displace the running config.
	time.Sleep(300 * time.Millisecond)
	if l.Config().Power.Shift == 0 {
		t.Error("invalid config applied")
	}
}
