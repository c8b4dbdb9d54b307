package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	pkgconfig "github.com/starford/notebase/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	svc := cfg.ServiceConfig()
	if svc.DefaultLimit != 20 || svc.MaxLimit != 100 || svc.Workers != 8 {
		t.Errorf("service config = %+v", svc)
	}
	opts := cfg.Search.IndexOptions()
	if opts.Boosts.Title <= opts.Boosts.Content {
		t.Errorf("title boost %v should exceed content boost %v", opts.Boosts.Title, opts.Boosts.Content)
	}
}

func TestSearchConfig_MaxBelowDefault(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Search.MaxLimit = 5
	cfg.Search.DefaultLimit = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("max_limit below default_limit should fail")
	}
}

func TestSearchConfig_NegativeBoost(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Search.Boosts.Title = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative boost should fail")
	}
}

func TestHistoryConfig_Required(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.History.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing history path should fail")
	}
}

func TestAuthConfig_AuthorWithAngleBrackets(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Author: "Bot <bot@example.com>"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("author with angle brackets should fail")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("NOTEBASE_TEST_TOKEN", "s3cret")
	data := `
app:
  log_level: debug
  http:
    port: 9090
  workers: 4
vault:
  path: /tmp/vault
sqlite:
  path: /tmp/index.db
history:
  path: /tmp/history
search:
  default_limit: 10
  max_limit: 50
  cursor_ttl: 5m
  boosts: {title: 3, content: 1, tags: 2, path: 0}
auth:
  mode: token
  token: ${NOTEBASE_TEST_TOKEN}
  author: ops
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "s3cret" || cfg.App.HTTP.Port != 9090 || cfg.App.Workers != 4 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Search.CursorTTL != 5*time.Minute || cfg.Search.Boosts.Title != 3 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.App.LogLevel)
	}
}

func TestAuthConfig_NamedKeys(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Keys: map[string]string{"claude": "k1", "ci": "k2"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("named keys should pass: %v", err)
	}
	want := map[string]string{"claude": "k1", "ci": "k2"}
	if diff := cmp.Diff(want, cfg.APIKeys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}

	cfg.Token, cfg.Author = "shared", "ops"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("keys plus token: %v", err)
	}
	if got := cfg.APIKeys()["ops"]; got != "shared" {
		t.Errorf("token key = %q, want it under the author name", got)
	}
	cfg.Author = ""
	if got := cfg.APIKeys()["api"]; got != "shared" {
		t.Errorf("token key without author = %q", got)
	}
}

func TestAuthConfig_BadKeys(t *testing.T) {
	tests := []struct {
		name string
		cfg  AuthConfig
	}{
		{"empty token", AuthConfig{Mode: "token", Keys: map[string]string{"ci": ""}}},
		{"empty name", AuthConfig{Mode: "token", Keys: map[string]string{"": "k"}}},
		{"bad name", AuthConfig{Mode: "token", Keys: map[string]string{"ci <x>": "k"}}},
		{"shared token", AuthConfig{Mode: "token", Keys: map[string]string{"a": "k", "b": "k"}}},
		{"token reused", AuthConfig{Mode: "token", Token: "k", Keys: map[string]string{"a": "k"}}},
		{"token name taken", AuthConfig{Mode: "token", Token: "t", Author: "a", Keys: map[string]string{"a": "k"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
