package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`app:
  environment: production
server:
  port: "9090"
bot:
  max_concurrent_meetings: 2
  lobby_timeout: 90s
scheduler:
  poll_interval: 15s
minio:
  bucket: meetings
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Environment != "production" {
		t.Fatalf("environment = %q", cfg.App.Environment)
	}
	if cfg.Server.HttpPort != "9090" {
		t.Fatalf("port = %q", cfg.Server.HttpPort)
	}
	if cfg.Bot.MaxConcurrent != 2 || cfg.Bot.LobbyTimeout != 90*time.Second {
		t.Fatalf("bot config not read: %+v", cfg.Bot)
	}
	if cfg.Scheduler.PollInterval != 15*time.Second {
		t.Fatalf("poll interval = %s", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.JoinGrace != 300*time.Second || cfg.Scheduler.EndGrace != time.Minute {
		t.Fatalf("grace defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.Bot.MaxJoinAfterStart != 10*time.Minute {
		t.Fatalf("join window default = %s", cfg.Bot.MaxJoinAfterStart)
	}
	if cfg.Speaking.GapThreshold != 1500*time.Millisecond {
		t.Fatalf("gap threshold default = %s", cfg.Speaking.GapThreshold)
	}
	if cfg.MinIOBucket != "meetings" {
		t.Fatalf("bucket = %q", cfg.MinIOBucket)
	}
	if cfg.Storage != nil || cfg.DB != nil || cfg.Queue != nil {
		t.Fatalf("expected unconfigured backends to stay nil")
	}
}

func TestRabbitMQURL(t *testing.T) {
	r := &RabbitMQ{Host: "mq", Port: 5672, User: "bot", Pass: "secret"}
	if got := r.URL(); got != "amqp://bot:secret@mq:5672/" {
		t.Fatalf("URL() = %q", got)
	}
}
