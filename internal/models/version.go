package models

import "time"

// Operation is the kind of mutation recorded in history.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpMove    Operation = "move"
	OpDelete  Operation = "delete"
	OpRestore Operation = "restore"
)

// VersionRecord is one immutable entry of a note's history.
type VersionRecord struct {
	CommitID  string    `json:"commit_id"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Operation Operation `json:"operation"`
	Path      string    `json:"path"`
	// PreviousPath is set on move records.
	PreviousPath string `json:"previous_path,omitempty"`
}

// NoteDiff is a unified diff between two versions of a note.
type NoteDiff struct {
	Path        string `json:"path"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Diff        string `json:"diff"`
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
}

// WarningKind classifies a warning attached to a successful mutation.
type WarningKind string

const (
	// WarnPartialFailure means the canonical write succeeded but a derived
	// store could not be updated; rebuild heals it.
	WarnPartialFailure WarningKind = "partial_failure"
	// WarnBrokenLinks lists notes whose links now point at a missing path.
	WarnBrokenLinks WarningKind = "broken_links"
)

// Warning is attached to successful mutation results.
type Warning struct {
	Kind    WarningKind      `json:"kind"`
	Step    string           `json:"step,omitempty"`
	Message string           `json:"message"`
	Sources []BacklinkSource `json:"sources,omitempty"`
}
