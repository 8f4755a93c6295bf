package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roach88/fleetsync/internal/route"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
store:
  path: /var/lib/fleetsync/db.sqlite
remote:
  allowed_hosts: [raw.githubusercontent.com]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected default driver sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Store.Path != "/var/lib/fleetsync/db.sqlite" {
		t.Fatalf("expected configured path, got %s", cfg.Store.Path)
	}
	if cfg.Remote.BaseURL != route.DefaultBaseURL {
		t.Fatalf("expected default base url, got %s", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", cfg.Remote.Timeout)
	}
	if cfg.Engine.OverlapPolicy != "serialize" {
		t.Fatalf("expected default overlap policy serialize, got %s", cfg.Engine.OverlapPolicy)
	}
	if len(cfg.Remote.AllowedHosts) != 1 {
		t.Fatalf("expected 1 allowed host, got %v", cfg.Remote.AllowedHosts)
	}
	if cfg.NATS.URL != "" || cfg.Metrics.Addr != "" {
		t.Fatalf("expected nats and metrics disabled by default")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  driver: badger
  path: ./data/badger
remote:
  base_url: https://data.example.com/fleets
  allow_http: true
  timeout: 5s
engine:
  overlap_policy: latest_wins
nats:
  url: nats://127.0.0.1:4222
  subject_prefix: plant7
metrics:
  addr: ":9100"
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Store.Driver != "badger" || cfg.Remote.Timeout != 5*time.Second || !cfg.Remote.AllowHTTP {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Engine.OverlapPolicy != "latest_wins" || cfg.NATS.SubjectPrefix != "plant7" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "store:\n  dirver: sqlite\n", "dirver"},
		{"bad driver", "store:\n  driver: postgres\n", "store.driver"},
		{"relative base", "remote:\n  base_url: data/fleets\n", "remote.base_url"},
		{"bad policy", "engine:\n  overlap_policy: parallel\n", "engine.overlap_policy"},
		{"bad level", "log:\n  level: verbose\n", "log.level"},
		{"negative timeout", "remote:\n  timeout: -1s\n", "remote.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
