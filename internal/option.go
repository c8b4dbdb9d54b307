package internal

import "io"

// Mode selects what Run does once the stores are open.
type Mode string

const (
	// ModeServe runs the REST API and the vault watcher.
	ModeServe Mode = "serve"
	// ModeMCP serves MCP tools over stdio.
	ModeMCP Mode = "mcp"
	// ModeRebuild rebuilds the derived stores and exits.
	ModeRebuild Mode = "rebuild"
	// ModeExport writes the vault to a tar.gz archive and exits.
	ModeExport Mode = "export"
	// ModeImport loads a tar.gz archive into the vault and exits.
	ModeImport Mode = "import"
	// ModeClear deletes every note and exits.
	ModeClear Mode = "clear"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	mode    Mode
	logOut  io.Writer
	archive string
	replace bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMode sets the run mode. The default is ModeServe.
func WithMode(m Mode) Option {
	return func(a *application) {
		a.mode = m
	}
}

// WithLogOutput redirects the JSON log. MCP mode defaults to stderr since
// stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

// WithArchive names the archive file read by ModeImport or written by
// ModeExport. Export picks a dated name when it is empty.
func WithArchive(path string) Option {
	return func(a *application) {
		a.archive = path
	}
}

// WithReplace makes ModeImport clear the vault before loading the archive.
func WithReplace(replace bool) Option {
	return func(a *application) {
		a.replace = replace
	}
}
