// Package backup moves the canonical notes of a vault in and out of
// gzip-compressed tar archives. It touches only the canonical store; callers
// rebuild the derived stores afterwards.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/notepath"
	"github.com/starford/notebase/internal/storage"
)

// MaxNoteBytes bounds a single archive entry.
const MaxNoteBytes = 10 << 20

// Report summarizes an export, import or clear.
type Report struct {
	Exported int `json:"exported,omitempty"`
	Imported int `json:"imported,omitempty"`
	// Existing counts archived notes left alone because the vault already
	// held that path.
	Existing int `json:"existing,omitempty"`
	// Ignored lists archive entries that are not notes.
	Ignored  []string `json:"ignored,omitempty"`
	Removed  int      `json:"removed,omitempty"`
	Replaced bool     `json:"replaced,omitempty"`
}

// FileName returns the default archive name for a backup taken at t.
func FileName(t time.Time) string {
	return "notebase-backup-" + t.Format("2006-01-02") + ".tar.gz"
}

// Export writes every note in store to w as <path>.md entries.
func Export(ctx context.Context, store storage.Provider, w io.Writer) (*Report, error) {
	metas, err := store.List("")
	if err != nil {
		return nil, apperr.Unavailable("canonical", err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Path < metas[j].Path })

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	rep := &Report{}
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := store.Read(m.Path)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Unavailable("canonical", err)
		}
		hdr := &tar.Header{
			Name:    m.Path + storage.Ext,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: m.UpdatedAt,
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("backup: write header %s: %w", m.Path, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("backup: write %s: %w", m.Path, err)
		}
		rep.Exported++
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("backup: close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("backup: flush gzip: %w", err)
	}
	return rep, nil
}

type entry struct {
	path string
	data []byte
}

// Import writes the notes archived in r into store. The whole archive is
// read and checked before anything is written, so a malformed archive or an
// entry escaping the vault leaves the store untouched. With replace, every
// existing note is removed first and archived notes overwrite; otherwise
// notes already present are kept.
func Import(ctx context.Context, store storage.Provider, r io.Reader, replace bool) (*Report, error) {
	entries, ignored, err := readArchive(r)
	if err != nil {
		return nil, err
	}

	rep := &Report{Ignored: ignored, Replaced: replace}
	if replace {
		if rep.Removed, err = Clear(ctx, store); err != nil {
			return nil, err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !replace {
			exists, err := store.Exists(e.path)
			if err != nil {
				return nil, apperr.Unavailable("canonical", err)
			}
			if exists {
				rep.Existing++
				continue
			}
		}
		if err := store.Write(e.path, e.data); err != nil {
			return nil, apperr.Unavailable("canonical", err)
		}
		rep.Imported++
	}
	return rep, nil
}

func readArchive(r io.Reader) ([]entry, []string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, apperr.Validation("archive is not gzip-compressed: %v", err)
	}
	defer gz.Close()

	var (
		entries []entry
		ignored []string
		seen    = make(map[string]struct{})
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, apperr.Validation("archive is not a tar file: %v", err)
		}
		name := hdr.Name
		if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") || hasDotDot(name) {
			return nil, nil, apperr.Validation("archive entry %q escapes the vault", name)
		}
		if hdr.Typeflag != tar.TypeReg {
			if hdr.Typeflag != tar.TypeDir {
				ignored = append(ignored, name)
			}
			continue
		}
		p := strings.TrimPrefix(path.Clean(name), "./")
		if !strings.HasSuffix(p, storage.Ext) || notepath.ValidatePath(strings.TrimSuffix(p, storage.Ext)) != nil {
			ignored = append(ignored, name)
			continue
		}
		if hdr.Size > MaxNoteBytes {
			return nil, nil, apperr.Validation("archive entry %q is larger than %d bytes", name, MaxNoteBytes)
		}
		data, err := io.ReadAll(io.LimitReader(tr, MaxNoteBytes+1))
		if err != nil {
			return nil, nil, apperr.Validation("archive entry %q: %v", name, err)
		}
		p = strings.TrimSuffix(p, storage.Ext)
		if _, dup := seen[p]; dup {
			return nil, nil, apperr.Validation("archive holds %q twice", name)
		}
		seen[p] = struct{}{}
		entries = append(entries, entry{path: p, data: data})
	}
	return entries, ignored, nil
}

func hasDotDot(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Clear removes every note from store and returns how many were removed.
func Clear(ctx context.Context, store storage.Provider) (int, error) {
	metas, err := store.List("")
	if err != nil {
		return 0, apperr.Unavailable("canonical", err)
	}
	n := 0
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		err := store.Delete(m.Path)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, apperr.Unavailable("canonical", err)
		}
		n++
	}
	return n, nil
}
