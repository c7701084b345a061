package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
		t.Setenv("POSTGRES_URL", "postgres://inboxguard@localhost/inboxguard?sslmode=disable")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.LockTTL != 5*time.Second || cfg.InFlightTTL != 30*time.Second || cfg.AuthCacheTTL != 24*time.Hour {
			t.Errorf("unexpected TTL defaults: %+v", cfg)
		}
		if cfg.InboundStream != "inbound_events" || cfg.ConsumerGroup != "inbound-processors" || cfg.MaxRequeues != 5 {
			t.Errorf("unexpected stream defaults: %+v", cfg)
		}
		if cfg.ClaimMinIdle != time.Minute {
			t.Errorf("expected 60s claim min idle, got %s", cfg.ClaimMinIdle)
		}
		if cfg.WebhookServerAddr != ":8080" || cfg.AdminServerAddr != ":9091" {
			t.Errorf("unexpected addresses: %+v", cfg)
		}
	})

	t.Run("Missing Required", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "")
		t.Setenv("POSTGRES_URL", "")
		if _, err := Load(); err == nil {
			t.Fatal("expected an error for missing REDIS_ADDR and POSTGRES_URL")
		}
	})

	t.Run("Overrides And Origins", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
		t.Setenv("POSTGRES_URL", "postgres://localhost/db")
		t.Setenv("LOCK_TTL", "2s")
		t.Setenv("REALTIME_ALLOWED_ORIGINS", "app.example.com,*.example.org")

		cfg, err := Load()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LockTTL != 2*time.Second {
			t.Errorf("expected LOCK_TTL override, got %s", cfg.LockTTL)
		}
		if len(cfg.RealtimeOrigins) != 2 || cfg.RealtimeOrigins[1] != "*.example.org" {
			t.Errorf("unexpected origins %v", cfg.RealtimeOrigins)
		}
	})

	t.Run("Invalid TTL", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
		t.Setenv("POSTGRES_URL", "postgres://localhost/db")
		t.Setenv("IN_FLIGHT_TTL", "0s")
		if _, err := Load(); err == nil {
			t.Fatal("expected an error for a zero in-flight TTL")
		}
	})

	t.Run("Claim Idle Below Marker TTL", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
		t.Setenv("POSTGRES_URL", "postgres://localhost/db")
		t.Setenv("IN_FLIGHT_TTL", "30s")
		t.Setenv("CLAIM_MIN_IDLE", "30s")
		if _, err := Load(); err == nil {
			t.Fatal("expected an error when stale entries could be claimed while their marker is live")
		}
	})
}
