// Package notepath validates and normalizes note identifiers: paths, titles and tags.
package notepath

import (
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notebase/internal/apperr"
)

// Separator splits path segments.
const Separator = "/"

const (
	MaxPathLength  = 255
	MaxTitleLength = 200
	MaxTagLength   = 64
)

var (
	pathRe = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*$`)
	tagRe  = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// ValidatePath checks that p is a well-formed note path.
func ValidatePath(p string) error {
	err := validation.Validate(p,
		validation.Required,
		validation.Length(1, MaxPathLength),
		validation.Match(pathRe).Error("must be segments of letters, digits, '_' or '-' joined by '/'"),
	)
	if err != nil {
		return apperr.Validation("path %q: %v", p, err)
	}
	return nil
}

// NormalizeTitle trims t and checks its length.
func NormalizeTitle(t string) (string, error) {
	t = strings.TrimSpace(t)
	err := validation.Validate(t,
		validation.Required.Error("cannot be empty"),
		validation.RuneLength(1, MaxTitleLength).Error("cannot exceed 200 characters"),
	)
	if err != nil {
		return "", apperr.Validation("title: %v", err)
	}
	return t, nil
}

// NormalizeTag lowercases and trims a single tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags lowercases, deduplicates and sorts tags. Empty entries are
// dropped; malformed ones are rejected.
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := NormalizeTag(raw)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	err := validation.Validate(out, validation.Each(
		validation.Length(1, MaxTagLength),
		validation.Match(tagRe).Error("must be lowercase letters, digits, '_' or '-'"),
	))
	if err != nil {
		return nil, apperr.Validation("tags: %v", err)
	}
	sort.Strings(out)
	return out, nil
}

// ApplyTagDelta removes then adds tags on current. The result is normalized.
func ApplyTagDelta(current, add, remove []string) ([]string, error) {
	removeSet := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		removeSet[NormalizeTag(r)] = struct{}{}
	}
	next := make([]string, 0, len(current)+len(add))
	for _, t := range current {
		if _, drop := removeSet[t]; !drop {
			next = append(next, t)
		}
	}
	next = append(next, add...)
	return NormalizeTags(next)
}

// NormalizeFolder strips surrounding separators from a browse prefix. The
// empty string is the root folder.
func NormalizeFolder(prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), Separator)
	if prefix == "" {
		return "", nil
	}
	if err := ValidatePath(prefix); err != nil {
		return "", err
	}
	return prefix, nil
}

// IsUnder reports whether p equals folder or lies beneath it, matching whole
// segments only: "projects/wiki" is not under "projects/wi".
func IsUnder(p, folder string) bool {
	if folder == "" {
		return true
	}
	return p == folder || strings.HasPrefix(p, folder+Separator)
}

// Parent returns the folder part of p, or "" for top-level notes.
func Parent(p string) string {
	if i := strings.LastIndex(p, Separator); i >= 0 {
		return p[:i]
	}
	return ""
}
