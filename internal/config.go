package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/noteservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	History HistoryConfig     `yaml:"history"`
	Search  SearchConfig      `yaml:"search"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// Workers bounds the number of requests the coordinator serves at once.
	Workers int `yaml:"workers"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(0), validation.Max(1024)),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
	// Watch re-derives notes edited outside the service.
	Watch bool `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// HistoryConfig holds the location of the version history repository.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the history configuration.
func (c *HistoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SearchConfig tunes paging and ranking.
type SearchConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	CursorTTL    time.Duration `yaml:"cursor_ttl"`
	Boosts       BoostsConfig  `yaml:"boosts"`
}

// BoostsConfig holds per-field ranking weights.
type BoostsConfig struct {
	Title   float64 `yaml:"title"`
	Content float64 `yaml:"content"`
	Tags    float64 `yaml:"tags"`
	Path    float64 `yaml:"path"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxLimit, validation.Required, validation.Min(c.DefaultLimit)),
		validation.Field(&c.CursorTTL, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	b := &c.Boosts
	err = validation.ValidateStruct(b,
		validation.Field(&b.Title, validation.Min(0.0)),
		validation.Field(&b.Content, validation.Min(0.0)),
		validation.Field(&b.Tags, validation.Min(0.0)),
		validation.Field(&b.Path, validation.Min(0.0)),
	)
	if err != nil {
		return fmt.Errorf("search.boosts: %w", err)
	}
	return nil
}

// IndexOptions converts the search section into index options.
func (c *SearchConfig) IndexOptions() index.Options {
	opts := index.DefaultOptions()
	opts.CursorTTL = c.CursorTTL
	opts.Boosts = index.Boosts{
		Title:   c.Boosts.Title,
		Content: c.Boosts.Content,
		Tag:     c.Boosts.Tags,
		Path:    c.Boosts.Path,
	}
	return opts
}

var authorRe = regexp.MustCompile(`^[^<>\r\n]*$`)

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication against Keys and Token.
//
// Keys maps an API key name to its token; mutations made with a key are
// recorded under its name. Token is a single unnamed key that authenticates
// as Author, or "api" when Author is empty.
//
// Author is recorded on mutations whose request names no author.
type AuthConfig struct {
	Mode   string            `yaml:"mode"`
	Token  string            `yaml:"token"`
	Keys   map[string]string `yaml:"keys"`
	Author string            `yaml:"author"`
}

const sharedKeyName = "api"

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.Author, validation.RuneLength(0, 100), validation.Match(authorRe)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" && len(c.Keys) == 0 {
		return fmt.Errorf("auth: mode is %q but token is empty and no keys are set", AuthModeToken)
	}

	owner := make(map[string]string, len(c.Keys))
	for name, token := range c.Keys {
		if err := validation.Validate(name, validation.Required, validation.RuneLength(1, 100), validation.Match(authorRe)); err != nil {
			return fmt.Errorf("auth.keys: name %q: %w", name, err)
		}
		if token == "" {
			return fmt.Errorf("auth.keys: %q has an empty token", name)
		}
		if other, ok := owner[token]; ok {
			return fmt.Errorf("auth.keys: %q and %q share a token", min(name, other), max(name, other))
		}
		owner[token] = name
	}
	if c.Token != "" {
		if other, ok := owner[c.Token]; ok {
			return fmt.Errorf("auth: token is also the token of key %q", other)
		}
		if _, ok := c.Keys[c.tokenName()]; ok {
			return fmt.Errorf("auth: token would authenticate as %q, which is already a key name", c.tokenName())
		}
	}
	return nil
}

func (c *AuthConfig) tokenName() string {
	if c.Author != "" {
		return c.Author
	}
	return sharedKeyName
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// APIKeys returns every accepted key by name, including Token.
func (c *AuthConfig) APIKeys() map[string]string {
	keys := make(map[string]string, len(c.Keys)+1)
	for name, token := range c.Keys {
		keys[name] = token
	}
	if c.Token != "" {
		keys[c.tokenName()] = c.Token
	}
	return keys
}

// ServiceConfig assembles the coordinator configuration.
func (c *Config) ServiceConfig() noteservice.Config {
	cfg := noteservice.DefaultConfig()
	if c.App.Workers > 0 {
		cfg.Workers = c.App.Workers
	}
	cfg.DefaultLimit = c.Search.DefaultLimit
	cfg.MaxLimit = c.Search.MaxLimit
	return cfg
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	opts := index.DefaultOptions()
	svc := noteservice.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			Workers: svc.Workers,
		},
		Vault: VaultConfig{
			Path:  "./vault",
			Watch: true,
		},
		SQLite: SQLiteConfig{
			Path: "./notebase.db",
		},
		History: HistoryConfig{
			Path: "./history",
		},
		Search: SearchConfig{
			DefaultLimit: svc.DefaultLimit,
			MaxLimit:     svc.MaxLimit,
			CursorTTL:    opts.CursorTTL,
			Boosts: BoostsConfig{
				Title:   opts.Boosts.Title,
				Content: opts.Boosts.Content,
				Tags:    opts.Boosts.Tag,
				Path:    opts.Boosts.Path,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
