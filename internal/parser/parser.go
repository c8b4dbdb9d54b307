// Package parser encodes notes as Markdown files with YAML frontmatter and
// extracts wikilinks from note content.
package parser

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/notebase/internal/models"
)

const delim = "---"

// frontmatter is the YAML header written at the top of every note file.
type frontmatter struct {
	Title   string    `yaml:"title"`
	Tags    []string  `yaml:"tags,omitempty,flow"`
	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
}

// Encode renders n as frontmatter followed by the verbatim content.
func Encode(n *models.Note) ([]byte, error) {
	fm := frontmatter{
		Title:   n.Title,
		Tags:    n.Tags,
		Created: n.CreatedAt.UTC(),
		Updated: n.UpdatedAt.UTC(),
	}
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("parser: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(header) + len(n.Content) + 8)
	buf.WriteString(delim + "\n")
	buf.Write(header)
	buf.WriteString(delim + "\n")
	buf.WriteString(n.Content)
	return buf.Bytes(), nil
}

// Decode parses a note file written by Encode. Files without frontmatter are
// accepted: the title falls back to the last path segment and the whole file
// becomes the content.
func Decode(path string, data []byte) (*models.Note, error) {
	n := &models.Note{Path: path, Tags: []string{}}

	header, body, ok := splitFrontmatter(data)
	if !ok {
		n.Title = lastSegment(path)
		n.Content = string(data)
		return n, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, fmt.Errorf("parser: decode frontmatter of %s: %w", path, err)
	}
	n.Title = fm.Title
	if n.Title == "" {
		n.Title = lastSegment(path)
	}
	if fm.Tags != nil {
		n.Tags = fm.Tags
	}
	n.CreatedAt = fm.Created.UTC()
	n.UpdatedAt = fm.Updated.UTC()
	n.Content = string(body)
	return n, nil
}

// splitFrontmatter separates the YAML header from the body. The body is
// returned byte-for-byte so content round-trips exactly.
func splitFrontmatter(data []byte) (header, body []byte, ok bool) {
	open := []byte(delim + "\n")
	if !bytes.HasPrefix(data, open) {
		return nil, nil, false
	}
	rest := data[len(open):]
	if bytes.HasPrefix(rest, open) {
		return nil, rest[len(open):], true
	}
	idx := bytes.Index(rest, []byte("\n"+delim+"\n"))
	if idx < 0 {
		if bytes.HasSuffix(rest, []byte("\n"+delim)) {
			return rest[:len(rest)-len(delim)], nil, true
		}
		return nil, nil, false
	}
	return rest[:idx+1], rest[idx+len(delim)+2:], true
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
