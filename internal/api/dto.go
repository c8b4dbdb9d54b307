package api

import (
	"github.com/starford/notebase/internal/models"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string   `json:"path" example:"projects/wiki" validate:"required"`
	Title   string   `json:"title" example:"Wiki" validate:"required"`
	Content string   `json:"content" example:"See [[projects/mcp]]"`
	Tags    []string `json:"tags" example:"work,draft"`
	Author  string   `json:"author,omitempty" example:"alice"`
}

// UpdateNoteRequest is the request body for a partial update. Absent fields
// are left unchanged.
type UpdateNoteRequest struct {
	NewPath         *string  `json:"new_path,omitempty" example:"archive/wiki"`
	Title           *string  `json:"title,omitempty"`
	Content         *string  `json:"content,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	AddTags         []string `json:"add_tags,omitempty"`
	RemoveTags      []string `json:"remove_tags,omitempty"`
	UpdateBacklinks *bool    `json:"update_backlinks,omitempty"`
	Author          string   `json:"author,omitempty"`
}

// RestoreRequest is the request body for restoring a version.
type RestoreRequest struct {
	Version string `json:"version" example:"3f2a9c1" validate:"required"`
	Author  string `json:"author,omitempty"`
}

// NoteListResponse wraps a list of full notes.
type NoteListResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
}

// TagListResponse wraps tag counts.
type TagListResponse struct {
	Tags []models.TagCount `json:"tags" validate:"required"`
}

// HistoryResponse wraps version records, newest first.
type HistoryResponse struct {
	Path     string                 `json:"path" validate:"required"`
	Versions []models.VersionRecord `json:"versions" validate:"required"`
}
