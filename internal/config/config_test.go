package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Env != "development" {
		t.Fatalf("unexpected env: %s", cfg.Env)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %s", cfg.Port)
	}
	if cfg.MaxFileSize != 30*1024*1024 {
		t.Fatalf("unexpected max file size: %d", cfg.MaxFileSize)
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("unexpected access ttl: %s", cfg.AccessTTL)
	}
	if cfg.JWTSecretKey == "" {
		t.Fatal("expected dev fallback jwt secret")
	}
	if cfg.Assistant.Model != "gpt-4-turbo-preview" {
		t.Fatalf("unexpected assistant model: %s", cfg.Assistant.Model)
	}
	if cfg.Assistant.MaxTokens != 800 {
		t.Fatalf("unexpected assistant max tokens: %d", cfg.Assistant.MaxTokens)
	}
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing JWT secret in production")
	}
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("APP_ENV", "flarp")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown APP_ENV")
	}
}

func TestAllowsExtension(t *testing.T) {
	cfg := &Config{SupportedExtensions: []string{".pdf", ".txt", ".md", ".docx"}}

	cases := []struct {
		filename string
		want     bool
	}{
		{"report.pdf", true},
		{"REPORT.PDF", true},
		{"notes.md", true},
		{"학사일정.docx", true},
		{"malware.exe", false},
		{"noextension", false},
		{"archive.tar.gz", false},
	}
	for _, tc := range cases {
		if got := cfg.AllowsExtension(tc.filename); got != tc.want {
			t.Errorf("AllowsExtension(%q) = %v, want %v", tc.filename, got, tc.want)
		}
	}
}

func TestAssistantProfileYAMLOverride(t *testing.T) {
	t.Setenv("ASSISTANT_PROFILE_PATH", "")
	profile, err := loadAssistantProfile("")
	if err != nil {
		t.Fatalf("loadAssistantProfile error: %v", err)
	}
	if profile.Name != "청암 챗봇" {
		t.Fatalf("unexpected default name: %s", profile.Name)
	}
	if profile.Temperature != 0.7 {
		t.Fatalf("unexpected default temperature: %v", profile.Temperature)
	}
}
