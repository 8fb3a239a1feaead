package config

import (
	"os"
	"path/filepath"
	"strings"
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

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
port: "8080"
supabaseURL: "https://proj.example.co"
supabaseAnonKey: "anon"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AvatarBucket != "avatars" || cfg.AuthRateLimitPerMin != 10 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://other.example.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon-env")
	t.Setenv("AVATAR_BUCKET", "faces")
	t.Setenv("AUTH_RATE_LIMIT_PER_MINUTE", "3")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,, 127.0.0.1")

	cfg, err := Load(writeConfig(t, `
port: "8080"
supabaseURL: "https://proj.example.co"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SupabaseURL != "https://other.example.co" || cfg.SupabaseAnonKey != "anon-env" {
		t.Fatalf("platform env not applied: %+v", cfg)
	}
	if cfg.AvatarBucket != "faces" || cfg.AuthRateLimitPerMin != 3 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.TrustedProxies) != 2 {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadRequiresPlatform(t *testing.T) {
	cases := map[string]string{
		"port":            `supabaseURL: "x"`,
		"supabaseURL":     `port: "8080"`,
		"supabaseAnonKey": "port: \"8080\"\nsupabaseURL: \"https://proj.example.co\"",
	}
	for field, content := range cases {
		_, err := Load(writeConfig(t, content))
		if err == nil || !strings.Contains(err.Error(), field) {
			t.Fatalf("%s: expected error naming field, got %v", field, err)
		}
	}
}
