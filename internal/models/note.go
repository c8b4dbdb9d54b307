// Package models defines the domain types for notebase.
package models

import "time"

// Note is a canonical document: markdown body plus metadata, addressed by path.
type Note struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteSummary is the path/title pair used in listings.
type NoteSummary struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkEdge is one [[target]] marker found in the content of Source.
type LinkEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Line   int    `json:"line"`
}

// BacklinkSource groups the edges one source note has towards a target.
type BacklinkSource struct {
	Path  string `json:"path"`
	Lines []int  `json:"lines"`
}

// TagCount is a tag and the number of notes carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
