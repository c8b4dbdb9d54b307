package index

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/checksum"
)

// cursor marks the last hit of a page. The next page resumes strictly
// after (Score, Path) in rank order.
type cursor struct {
	Fingerprint string  `json:"f"`
	Score       float64 `json:"s"`
	Path        string  `json:"p"`
	Ord         int64   `json:"o"`
	Rank        int     `json:"r"`
	IssuedAt    int64   `json:"t"`
}

// fingerprint identifies the query a cursor was issued for.
func fingerprint(query string) string {
	return checksum.Short(query, 16)
}

func encodeCursor(c cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("index: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// decodeCursor parses token and checks it belongs to the query with
// fingerprint fp and has not outlived ttl. A zero ttl never expires.
func decodeCursor(token, fp string, ttl time.Duration, now time.Time) (*cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", apperr.ErrInvalidCursor)
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: malformed token", apperr.ErrInvalidCursor)
	}
	if c.Fingerprint != fp {
		return nil, fmt.Errorf("%w: issued for a different query", apperr.ErrInvalidCursor)
	}
	if ttl > 0 && now.Sub(time.Unix(c.IssuedAt, 0)) > ttl {
		return nil, fmt.Errorf("%w: expired", apperr.ErrInvalidCursor)
	}
	return &c, nil
}

// after reports whether a hit ranks strictly after the cursor.
func (c *cursor) after(score float64, path string) bool {
	return score < c.Score || (score == c.Score && path > c.Path)
}
