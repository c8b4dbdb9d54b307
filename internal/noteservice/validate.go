package noteservice

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/notepath"
)

const maxAuthorLength = 100

var authorRe = regexp.MustCompile(`^[^<>\r\n]+$`)

// validateAuthor trims and checks the author attached to a mutation.
func validateAuthor(author string) (string, error) {
	author = strings.TrimSpace(author)
	err := validation.Validate(author,
		validation.Required.Error("is required"),
		validation.RuneLength(1, maxAuthorLength),
		validation.Match(authorRe).Error("must not contain '<', '>' or line breaks"),
	)
	if err != nil {
		return "", apperr.Validation("author: %v", err)
	}
	return author, nil
}

// CreateInput holds the fields of a new note.
type CreateInput struct {
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Author  string   `json:"author"`
}

// UpdateInput holds a partial update. Nil pointer fields are left unchanged.
// Tags replaces the whole tag set when non-nil and cannot be combined with
// AddTags or RemoveTags.
type UpdateInput struct {
	Path    string   `json:"path"`
	NewPath *string  `json:"new_path,omitempty"`
	Title   *string  `json:"title,omitempty"`
	Content *string  `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	AddTags    []string `json:"add_tags,omitempty"`
	RemoveTags []string `json:"remove_tags,omitempty"`

	// UpdateBacklinks rewrites [[old]] markers in linking notes on a move.
	// Nil means true.
	UpdateBacklinks *bool  `json:"update_backlinks,omitempty"`
	Author          string `json:"author"`
}

func (in *CreateInput) normalize() error {
	if err := notepath.ValidatePath(in.Path); err != nil {
		return err
	}
	title, err := notepath.NormalizeTitle(in.Title)
	if err != nil {
		return err
	}
	in.Title = title
	tags, err := notepath.NormalizeTags(in.Tags)
	if err != nil {
		return err
	}
	in.Tags = tags
	author, err := validateAuthor(in.Author)
	if err != nil {
		return err
	}
	in.Author = author
	return nil
}

// normalize validates everything that does not need the stored note.
func (in *UpdateInput) normalize() error {
	if err := notepath.ValidatePath(in.Path); err != nil {
		return err
	}
	author, err := validateAuthor(in.Author)
	if err != nil {
		return err
	}
	in.Author = author

	if in.NewPath != nil {
		if err := notepath.ValidatePath(*in.NewPath); err != nil {
			return apperr.Validation("new_path: %v", err)
		}
		if *in.NewPath == in.Path {
			in.NewPath = nil
		}
	}
	if in.Title != nil {
		title, err := notepath.NormalizeTitle(*in.Title)
		if err != nil {
			return err
		}
		in.Title = &title
	}
	if in.Tags != nil && (len(in.AddTags) > 0 || len(in.RemoveTags) > 0) {
		return apperr.Validation("tags cannot be combined with add_tags or remove_tags")
	}
	if in.Tags != nil {
		tags, err := notepath.NormalizeTags(in.Tags)
		if err != nil {
			return err
		}
		in.Tags = tags
	}
	if len(in.AddTags) > 0 {
		if _, err := notepath.NormalizeTags(in.AddTags); err != nil {
			return err
		}
	}
	if in.NewPath == nil && in.Title == nil && in.Content == nil && in.Tags == nil &&
		len(in.AddTags) == 0 && len(in.RemoveTags) == 0 {
		return apperr.Validation("no changes requested")
	}
	return nil
}

func (in *UpdateInput) rewriteBacklinks() bool {
	return in.UpdateBacklinks == nil || *in.UpdateBacklinks
}
