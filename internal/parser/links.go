package parser

import (
	"regexp"
	"strings"

	"github.com/starford/notebase/internal/models"
)

// wikilinkRe matches [[target]] and [[target|display]] on a single line.
var wikilinkRe = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)

// ExtractLinks returns every wikilink in content with its 1-based line number.
// Markers without a closing "]]" on the same line are ignored.
func ExtractLinks(source, content string) []models.LinkEdge {
	var out []models.LinkEdge
	for i, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, "[[") {
			continue
		}
		for _, m := range wikilinkRe.FindAllStringSubmatch(line, -1) {
			target := strings.TrimSpace(m[1])
			if target == "" {
				continue
			}
			out = append(out, models.LinkEdge{
				Source: source,
				Target: target,
				Line:   i + 1,
			})
		}
	}
	return out
}

// ReplaceLinkTarget rewrites every link to oldTarget so that it points at
// newTarget. Display text is preserved: [[old|Label]] becomes [[new|Label]].
func ReplaceLinkTarget(content, oldTarget, newTarget string) string {
	return wikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		m := wikilinkRe.FindStringSubmatch(match)
		if strings.TrimSpace(m[1]) != oldTarget {
			return match
		}
		if m[2] != "" {
			return "[[" + newTarget + "|" + m[2] + "]]"
		}
		return "[[" + newTarget + "]]"
	})
}
