package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/storage"
)

func vault(t *testing.T, notes map[string]string) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	for p, body := range notes {
		if err := fs.Write(p, []byte(body)); err != nil {
			t.Fatalf("Write(%s): %v", p, err)
		}
	}
	return fs
}

func contents(t *testing.T, fs *storage.FS) map[string]string {
	t.Helper()
	metas, err := fs.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := map[string]string{}
	for _, m := range metas {
		data, err := fs.Read(m.Path)
		if err != nil {
			t.Fatalf("Read(%s): %v", m.Path, err)
		}
		out[m.Path] = string(data)
	}
	return out
}

type tarFile struct {
	name string
	body string
	kind byte
}

func archive(t *testing.T, files ...tarFile) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		kind := f.kind
		if kind == 0 {
			kind = tar.TypeReg
		}
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: kind}
		if kind != tar.TypeReg {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if kind == tar.TypeReg {
			if _, err := tw.Write([]byte(f.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	notes := map[string]string{
		"inbox":         "---\ntitle: Inbox\n---\nno newline",
		"projects/plan": "---\ntitle: Plan\n---\nSee [[inbox]]\n",
	}
	src := vault(t, notes)

	var buf bytes.Buffer
	rep, err := Export(ctx, src, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rep.Exported != 2 {
		t.Errorf("exported = %d, want 2", rep.Exported)
	}

	dst := vault(t, nil)
	rep, err = Import(ctx, dst, &buf, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Imported != 2 || rep.Existing != 0 {
		t.Errorf("report = %+v", rep)
	}
	if diff := cmp.Diff(notes, contents(t, dst)); diff != "" {
		t.Errorf("imported vault (-want +got):\n%s", diff)
	}
}

func TestImport_MergeKeepsExisting(t *testing.T) {
	ctx := context.Background()
	dst := vault(t, map[string]string{"a": "mine", "b": "untouched"})
	arc := archive(t,
		tarFile{name: "a.md", body: "theirs"},
		tarFile{name: "c/d.md", body: "new"},
		tarFile{name: "c/", kind: tar.TypeDir},
		tarFile{name: "README.txt", body: "skip"},
		tarFile{name: "bad name.md", body: "skip"},
	)

	rep, err := Import(ctx, dst, arc, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := &Report{Imported: 1, Existing: 1, Ignored: []string{"README.txt", "bad name.md"}}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
	wantNotes := map[string]string{"a": "mine", "b": "untouched", "c/d": "new"}
	if diff := cmp.Diff(wantNotes, contents(t, dst)); diff != "" {
		t.Errorf("vault (-want +got):\n%s", diff)
	}
}

func TestImport_ReplaceClearsFirst(t *testing.T) {
	ctx := context.Background()
	dst := vault(t, map[string]string{"a": "mine", "old/gone": "bye"})
	arc := archive(t, tarFile{name: "./a.md", body: "theirs"})

	rep, err := Import(ctx, dst, arc, true)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Removed != 2 || rep.Imported != 1 || !rep.Replaced {
		t.Errorf("report = %+v", rep)
	}
	if diff := cmp.Diff(map[string]string{"a": "theirs"}, contents(t, dst)); diff != "" {
		t.Errorf("vault (-want +got):\n%s", diff)
	}
}

func TestImport_RejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name string
		arc  func(t *testing.T) *bytes.Buffer
	}{
		{"traversal", func(t *testing.T) *bytes.Buffer {
			return archive(t, tarFile{name: "ok.md", body: "x"}, tarFile{name: "../evil.md", body: "x"})
		}},
		{"absolute", func(t *testing.T) *bytes.Buffer {
			return archive(t, tarFile{name: "/etc/evil.md", body: "x"})
		}},
		{"duplicate", func(t *testing.T) *bytes.Buffer {
			return archive(t, tarFile{name: "a.md", body: "1"}, tarFile{name: "./a.md", body: "2"})
		}},
		{"not gzip", func(t *testing.T) *bytes.Buffer {
			return bytes.NewBufferString("plain text")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := vault(t, map[string]string{"keep": "me"})
			_, err := Import(context.Background(), dst, tt.arc(t), true)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if diff := cmp.Diff(map[string]string{"keep": "me"}, contents(t, dst)); diff != "" {
				t.Errorf("vault changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClear(t *testing.T) {
	dst := vault(t, map[string]string{"a": "1", "x/y/z": "2"})
	n, err := Clear(context.Background(), dst)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if got := contents(t, dst); len(got) != 0 {
		t.Errorf("vault after clear = %v", got)
	}
}

func TestFileName(t *testing.T) {
	got := FileName(time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC))
	if got != "notebase-backup-2024-03-09.tar.gz" {
		t.Errorf("FileName = %q", got)
	}
}
