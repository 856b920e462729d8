package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Notifications.Overflow != OverflowDropOldest {
		t.Fatalf("overflow = %s", cfg.Notifications.Overflow)
	}
	if cfg.Chat.PollInterval != time.Second || cfg.Chat.PollTimeout != 30*time.Second {
		t.Fatalf("poll bounds = %s/%s", cfg.Chat.PollInterval, cfg.Chat.PollTimeout)
	}
	if cfg.Storage.MaxBytes != 10<<20 {
		t.Fatalf("max bytes = %d", cfg.Storage.MaxBytes)
	}
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
database:
  workspace: /srv/tl
notifications:
  workers: 2
  overflow: reject_new
chat:
  poll_timeout: 5s
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Notifications.Workers != 2 || cfg.Notifications.Overflow != OverflowRejectNew {
		t.Fatalf("notifications = %+v", cfg.Notifications)
	}
	if cfg.Notifications.QueueSize != 256 {
		t.Fatalf("queue size default lost: %d", cfg.Notifications.QueueSize)
	}
	if cfg.Chat.PollTimeout != 5*time.Second {
		t.Fatalf("poll timeout = %s", cfg.Chat.PollTimeout)
	}
	if cfg.Storage.Dir != filepath.Join("/srv/tl", ".talentlink", "uploads") {
		t.Fatalf("storage dir = %s", cfg.Storage.Dir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"overflow":  "notifications:\n  overflow: block\n",
		"provider":  "mail:\n  provider: carrier-pigeon\n",
		"smtp host": "mail:\n  provider: smtp\n",
		"http":      "mail:\n  provider: http\n",
		"poll mode": "chat:\n  poll_mode: push\n",
		"webhook":   "webhooks:\n  - secret: x\n",
		"interval":  "chat:\n  poll_interval: 10s\n  poll_timeout: 1s\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path = %s", cfg.Server.BasePath)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	if err := os.WriteFile(path, []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(cfg.Mail.From, "no-reply") {
		t.Fatalf("from = %s", cfg.Mail.From)
	}
}
