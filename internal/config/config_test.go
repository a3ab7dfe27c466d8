package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestParseJSONOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `{"listen":"0.0.0.0:29900","buddydir":"/data","ratelimit":4096,"quiet":true,"seeds":["1.2.3.4:9527"]}`)

	cfg := Default()
	if err := ParseJSON(cfg, path); err != nil {
		t.Fatalf("ParseJSON returned error: %v", err)
	}

	if cfg.Listen != "0.0.0.0:29900" || cfg.BuddyDir != "/data" {
		t.Fatalf("unexpected override: %+v", cfg)
	}
	if cfg.RateLimit != 4096 || !cfg.Quiet {
		t.Fatalf("unexpected numeric/boolean override: %+v", cfg)
	}
	if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "1.2.3.4:9527" {
		t.Fatalf("unexpected seeds: %+v", cfg.Seeds)
	}
	if cfg.SnapshotInterval != 30 {
		t.Fatalf("expected untouched field to keep its default, got %d", cfg.SnapshotInterval)
	}
}

func TestParseJSONMissingFileFails(t *testing.T) {
	cfg := Default()
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := ParseJSON(cfg, missing); err == nil {
		t.Fatal("expected error for missing file")
	}
}
