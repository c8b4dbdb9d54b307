package notepath

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/notebase/internal/apperr"
)

func TestValidatePath(t *testing.T) {
	valid := []string{"note", "my-note", "my_note_123", "folder/my-note", "a/b/c"}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{"", "/lead", "trail/", "a//b", "../etc/passwd", "my note", "my.note", "a/./b",
		strings.Repeat("x", MaxPathLength+1)}
	for _, p := range invalid {
		err := ValidatePath(p)
		if err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", p)
			continue
		}
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("ValidatePath(%q) error %v is not a validation error", p, err)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	got, err := NormalizeTitle("  My Title  ")
	if err != nil || got != "My Title" {
		t.Fatalf("NormalizeTitle = %q, %v", got, err)
	}
	if _, err := NormalizeTitle("   "); err == nil {
		t.Error("blank title should fail")
	}
	if _, err := NormalizeTitle(strings.Repeat("x", 201)); err == nil {
		t.Error("201-char title should fail")
	}
	if _, err := NormalizeTitle(strings.Repeat("x", 200)); err != nil {
		t.Errorf("200-char title should pass: %v", err)
	}
}

func TestNormalizeTags(t *testing.T) {
	got, err := NormalizeTags([]string{"  Python ", "web", "python", "", "my-tag", "my_tag"})
	if err != nil {
		t.Fatalf("NormalizeTags: %v", err)
	}
	want := []string{"my-tag", "my_tag", "python", "web"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range [][]string{{"in valid"}, {"also/invalid"}, {"dot.tag"}} {
		if _, err := NormalizeTags(bad); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("NormalizeTags(%v) err = %v, want validation error", bad, err)
		}
	}
}

func TestApplyTagDelta_RemovalsBeforeAdditions(t *testing.T) {
	got, err := ApplyTagDelta([]string{"a", "b"}, []string{"b", "C"}, []string{"b"})
	if err != nil {
		t.Fatalf("ApplyTagDelta: %v", err)
	}
	// b is removed and then re-added.
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestIsUnder_SegmentAware(t *testing.T) {
	cases := []struct {
		path, folder string
		want         bool
	}{
		{"projects/wiki", "projects/wiki", true},
		{"projects/wiki/page", "projects/wiki", true},
		{"projects/wiki-ai", "projects/wiki", false},
		{"projects", "", true},
	}
	for _, c := range cases {
		if got := IsUnder(c.path, c.folder); got != c.want {
			t.Errorf("IsUnder(%q, %q) = %v, want %v", c.path, c.folder, got, c.want)
		}
	}
}

func TestNormalizeFolder(t *testing.T) {
	got, err := NormalizeFolder("/projects/wiki/")
	if err != nil || got != "projects/wiki" {
		t.Fatalf("NormalizeFolder = %q, %v", got, err)
	}
	if got, _ := NormalizeFolder("  "); got != "" {
		t.Errorf("blank folder = %q, want root", got)
	}
	if _, err := NormalizeFolder("a//b"); err == nil {
		t.Error("duplicate separator should fail")
	}
}
