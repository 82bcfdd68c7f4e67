package infra

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
app:
  name: market-store
storage:
  drive: local
  path: data
  append_only_new: true
  price_step: "0.01"
  volume_step: 1
  baskets:
    - security: IDX@SYN
      underlyings: [SBER@TQBR, GAZP@TQBR]
processor:
  storage_interval_ms: 500
  mode: snapshot
live:
  websocket:
    url: ws://localhost:9000/feed
logging:
  level: debug
  format: json
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if !cfg.Storage.AppendOnlyNew || cfg.Storage.PriceStep.String() != "0.01" || cfg.Storage.VolumeStep.String() != "1" {
		t.Errorf("Unexpected storage section %+v", cfg.Storage)
	}
	if len(cfg.Storage.Baskets) != 1 || len(cfg.Storage.Baskets[0].Underlyings) != 2 {
		t.Errorf("Unexpected baskets %+v", cfg.Storage.Baskets)
	}
	if cfg.StorageInterval() != 500*time.Millisecond {
		t.Errorf("Unexpected storage interval %s", cfg.StorageInterval())
	}
	// defaults
	if cfg.Processor.BufferSize != 1024 || cfg.SnapshotInterval() != time.Second {
		t.Errorf("Defaults not applied: %+v", cfg.Processor)
	}
}

func TestParseConfig_EnvOverride(t *testing.T) {
	t.Setenv("MDS_STORAGE_PATH", "/srv/md")
	t.Setenv("MDS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := ParseConfig([]byte("storage: {drive: local, path: data}\nlive: {kafka: {topic: live}}"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Storage.Path != "/srv/md" {
		t.Errorf("Path not overridden: %s", cfg.Storage.Path)
	}
	if len(cfg.Live.Kafka.Brokers) != 2 {
		t.Errorf("Brokers not overridden: %v", cfg.Live.Kafka.Brokers)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown drive", "storage: {drive: tape, path: x}"},
		{"missing path", "storage: {drive: sqlite}"},
		{"bad mode", "storage: {drive: memory}\nprocessor: {mode: eager}"},
		{"bad ws url", "storage: {drive: memory}\nlive: {websocket: {url: http://x}}"},
		{"kafka without topic", "storage: {drive: memory}\nlive: {kafka: {brokers: [k:9092]}}"},
		{"empty basket", "storage: {drive: memory, baskets: [{security: IDX@SYN}]}"},
		{"negative step", "storage: {drive: memory, price_step: \"-1\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.yaml)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage: {drive: memory}"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	if got := ResolveConfigPath(path); got != path {
		t.Errorf("Explicit config path ignored: %s", got)
	}
}

func TestResolveDataPath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "data")
	if got := ResolveDataPath("ws", abs, "x"); got != abs {
		t.Errorf("Absolute path changed: %s", got)
	}
	if got := ResolveDataPath("ws", "", "snapshots"); got != filepath.Join("ws", "snapshots") {
		t.Errorf("Default not anchored: %s", got)
	}
}

func TestCreateLockFile(t *testing.T) {
	dir := t.TempDir()
	release, err := CreateLockFile(dir)
	if err != nil {
		t.Fatalf("CreateLockFile failed: %v", err)
	}
	if _, err := CreateLockFile(dir); err == nil {
		t.Error("Second lock should fail")
	}
	release()
	if _, err := CreateLockFile(dir); err != nil {
		t.Errorf("Lock after release failed: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info logged at warn level")
	}
	if !strings.Contains(out, `"k":"v"`) {
		t.Errorf("Expected JSON output, got %s", out)
	}
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Error("Unknown level should fall back to info")
	}
}
