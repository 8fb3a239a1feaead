package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.example.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_JWT_SECRET", "secret")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("FUNCTIONS_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := Load(writeConfig(t, `
port: "8090"
logLevel: "debug"
redisAddr: "localhost:6379"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.PlatformConfigured() || cfg.SupabaseURL != "https://proj.example.co" {
		t.Fatalf("platform settings not applied: %+v", cfg)
	}
	if cfg.JWTSecret != "secret" || cfg.RedisAddr != "localhost:6380" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.RateLimitPerMin != 5 {
		t.Fatalf("rateLimitPerMinute = %d, want 5", cfg.RateLimitPerMin)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadDefaultsAndValidation(t *testing.T) {
	cfg, err := Load(writeConfig(t, `port: "8090"`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PlatformConfigured() {
		t.Fatalf("platform should be unconfigured")
	}
	if cfg.RateLimitPerMin != 60 {
		t.Fatalf("rateLimitPerMinute = %d, want default 60", cfg.RateLimitPerMin)
	}

	cases := map[string]string{
		"no port":        `logLevel: info`,
		"half platform":  "port: \"1\"\nsupabaseURL: https://x.example.co",
		"minio no creds": "port: \"1\"\nminioEndpoint: localhost:9000",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
