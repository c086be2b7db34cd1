package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
server:
  host: 127.0.0.1
  port: 9090
  ping_interval_sec: 20
  pong_timeout_sec: 45
  max_frame_bytes: 52428800

db:
  host: 10.0.0.5
  port: 3307
  user: crewdeck
  password: s3cret
  database: crewdeck_prod

nats:
  url: nats://10.0.0.9:4222

auth:
  secret: topsecret

chat:
  direct_history_limit: 25
  preview_length: 80
  presence_resync_cron: "*/5 * * * *"
`

const minimalYAML = `
auth:
  secret: topsecret
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.MaxFrameBytes != 52428800 {
		t.Errorf("Server.MaxFrameBytes = %d, want 52428800", cfg.Server.MaxFrameBytes)
	}
	if cfg.DB.Host != "10.0.0.5" {
		t.Errorf("DB.Host = %q, want %q", cfg.DB.Host, "10.0.0.5")
	}
	if cfg.DB.Database != "crewdeck_prod" {
		t.Errorf("DB.Database = %q, want %q", cfg.DB.Database, "crewdeck_prod")
	}
	if cfg.NATS.URL != "nats://10.0.0.9:4222" {
		t.Errorf("NATS.URL = %q, want nats://10.0.0.9:4222", cfg.NATS.URL)
	}
	if cfg.Chat.DirectHistoryLimit != 25 {
		t.Errorf("Chat.DirectHistoryLimit = %d, want 25", cfg.Chat.DirectHistoryLimit)
	}
	if cfg.Chat.PresenceResyncCron != "*/5 * * * *" {
		t.Errorf("Chat.PresenceResyncCron = %q", cfg.Chat.PresenceResyncCron)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.PingIntervalSec != 25 {
		t.Errorf("default PingIntervalSec = %d, want 25", cfg.Server.PingIntervalSec)
	}
	if cfg.Server.PongTimeoutSec != 60 {
		t.Errorf("default PongTimeoutSec = %d, want 60", cfg.Server.PongTimeoutSec)
	}
	if cfg.Server.MaxFrameBytes != 100<<20 {
		t.Errorf("default MaxFrameBytes = %d, want %d", cfg.Server.MaxFrameBytes, int64(100<<20))
	}
	if cfg.DB.Host != "127.0.0.1" {
		t.Errorf("default DB.Host = %q, want 127.0.0.1", cfg.DB.Host)
	}
	if cfg.DB.User != "root" {
		t.Errorf("default DB.User = %q, want root", cfg.DB.User)
	}
	if cfg.DB.Database != "crewdeck" {
		t.Errorf("default DB.Database = %q, want crewdeck", cfg.DB.Database)
	}
	if cfg.NATS.URL != "" {
		t.Errorf("default NATS.URL = %q, want empty (local bus)", cfg.NATS.URL)
	}
	if cfg.Chat.DirectHistoryLimit != 50 {
		t.Errorf("default DirectHistoryLimit = %d, want 50", cfg.Chat.DirectHistoryLimit)
	}
	if cfg.Chat.PreviewLength != 100 {
		t.Errorf("default PreviewLength = %d, want 100", cfg.Chat.PreviewLength)
	}
}

func TestParse_MissingSecret(t *testing.T) {
	os.Unsetenv("CREWDECK_SECRET")
	_, err := Parse([]byte(`server: {port: 8080}`))
	if err == nil {
		t.Fatal("expected error for missing auth secret")
	}
	if !strings.Contains(err.Error(), "auth.secret is required") {
		t.Errorf("error = %q, want mention of auth.secret", err)
	}
}

func TestParse_SecretFromEnv(t *testing.T) {
	t.Setenv("CREWDECK_SECRET", "env-secret")
	cfg, err := Parse([]byte(`server: {port: 8080}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.Secret != "env-secret" {
		t.Errorf("Auth.Secret = %q, want env-secret", cfg.Auth.Secret)
	}
}

func TestParse_PongMustExceedPing(t *testing.T) {
	_, err := Parse([]byte(`
auth: {secret: x}
server: {ping_interval_sec: 30, pong_timeout_sec: 10}
`))
	if err == nil {
		t.Fatal("expected error for pong timeout <= ping interval")
	}
	if !strings.Contains(err.Error(), "pong_timeout_sec") {
		t.Errorf("error = %q, want mention of pong_timeout_sec", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not a map"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
