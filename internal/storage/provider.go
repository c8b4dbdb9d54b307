// Package storage defines the canonical document store: one markdown file per
// note under the vault root.
package storage

import "github.com/starford/notebase/internal/models"

// Ext is the file extension of every note file.
const Ext = ".md"

// Provider is the interface for canonical note storage. Paths are note paths
// ("projects/plan"), never file names.
type Provider interface {
	// List returns metadata for every note under folder ("" for all).
	List(folder string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the note at path. Missing notes yield an
	// error wrapping apperr.ErrNotFound.
	Read(path string) ([]byte, error)
	// Write atomically replaces the note at path.
	Write(path string, content []byte) error
	// Delete removes the note at path and prunes empty parent folders.
	Delete(path string) error
	// Exists reports whether a note is stored at path.
	Exists(path string) (bool, error)
}
