package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
storage = "memory"
mode = "full"

[server]
port = 9001
api_key = "secret"

[engine]
lock_ttl = "30s"

[archive]
enabled = true
retention_days = 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage != "memory" {
		t.Errorf("storage = %q, want memory", cfg.Storage)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Engine.LockTTL.Duration != 30*time.Second {
		t.Errorf("lock ttl = %v, want 30s", cfg.Engine.LockTTL.Duration)
	}
	if !cfg.Archive.Enabled || cfg.Archive.RetentionDays != 30 {
		t.Errorf("archive = %+v, want enabled with 30 day retention", cfg.Archive)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr != Defaults().Redis.Addr {
		t.Errorf("redis addr = %q, want default %q", cfg.Redis.Addr, Defaults().Redis.Addr)
	}
}

func TestLoadEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `
storage = "postgres"

[postgres]
password = "from-file"
`)

	t.Setenv("OPTTRACKER_POSTGRES_PASSWORD", "from-env")
	t.Setenv("OPTTRACKER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OPTTRACKER_ENGINE_LOCK_TTL", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Postgres.Password != "from-env" {
		t.Errorf("password = %q, want from-env", cfg.Postgres.Password)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
	if cfg.Engine.LockTTL.Duration != 5*time.Second {
		t.Errorf("lock ttl = %v, want 5s", cfg.Engine.LockTTL.Duration)
	}
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"postgres password": red.Postgres.Password,
		"redis password":    red.Redis.Password,
		"s3 secret":         red.S3.SecretKey,
		"api key":           red.Server.APIKey,
		"telegram token":    red.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("%s = %q, want ***", name, got)
		}
	}

	// The original is untouched.
	if cfg.Postgres.Password != "pg-pass" {
		t.Errorf("original mutated: %q", cfg.Postgres.Password)
	}
}
