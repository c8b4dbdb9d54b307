package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/notebase/internal/analysis"
	"github.com/starford/notebase/internal/query"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

const (
	defaultLimit = 20
	snippetWidth = 160
)

// SearchRequest is one page request for a compiled query.
type SearchRequest struct {
	// Query is the raw query string; cursors are bound to it.
	Query  string
	AST    query.Node
	Limit  int
	Cursor string
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Score     float64   `json:"score"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchPage is a page of hits plus the cursor for the next one, empty on
// the last page.
type SearchPage struct {
	Results    []SearchResult `json:"results"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Search evaluates req.AST against one read snapshot and returns the page
// following req.Cursor. Hits are ordered by descending score, ties by
// ascending path.
func (db *DB) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	fp := fingerprint(req.Query)
	var from *cursor
	if req.Cursor != "" {
		c, err := decodeCursor(req.Cursor, fp, db.opts.CursorTTL, db.now())
		if err != nil {
			return nil, err
		}
		from = c
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	tx, err := db.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("index: search: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	s := &searcher{ctx: ctx, tx: tx, boosts: db.opts.Boosts}
	if err := s.load(); err != nil {
		return nil, err
	}
	matches, err := s.eval(req.AST)
	if err != nil {
		return nil, err
	}

	hits := make([]hit, 0, len(matches))
	for ord, score := range matches {
		hits = append(hits, hit{ord: ord, path: s.docs[ord].path, score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].path < hits[j].path
	})

	start, rank := 0, 0
	if from != nil {
		start = sort.Search(len(hits), func(i int) bool { return from.after(hits[i].score, hits[i].path) })
		rank = from.Rank
	}
	end := min(start+limit, len(hits))
	pageHits := hits[start:end]

	terms := highlightTerms(req.AST)
	page := &SearchPage{Results: make([]SearchResult, 0, len(pageHits))}
	for _, h := range pageHits {
		r, err := s.result(h, terms)
		if err != nil {
			return nil, err
		}
		page.Results = append(page.Results, r)
	}

	if end < len(hits) {
		last := pageHits[len(pageHits)-1]
		page.NextCursor, err = encodeCursor(cursor{
			Fingerprint: fp,
			Score:       last.score,
			Path:        last.path,
			Ord:         last.ord,
			Rank:        rank + len(pageHits),
			IssuedAt:    db.now().Unix(),
		})
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

type hit struct {
	ord   int64
	path  string
	score float64
}

// matchSet maps document ordinals to accumulated scores.
type matchSet map[int64]float64

type docRef struct {
	path    string
	updated int64
}

type searcher struct {
	ctx    context.Context
	tx     *sql.Tx
	boosts Boosts

	docs       map[int64]docRef
	avgTitle   float64
	avgContent float64
}

func (s *searcher) load() error {
	rows, err := s.tx.QueryContext(s.ctx, `SELECT ord, path, updated_at FROM documents`)
	if err != nil {
		return fmt.Errorf("index: search: load documents: %w", err)
	}
	defer rows.Close()
	s.docs = make(map[int64]docRef)
	for rows.Next() {
		var (
			ord int64
			d   docRef
		)
		if err := rows.Scan(&ord, &d.path, &d.updated); err != nil {
			return err
		}
		s.docs[ord] = d
	}
	if err := rows.Err(); err != nil {
		return err
	}

	err = s.tx.QueryRowContext(s.ctx,
		`SELECT COALESCE(AVG(title_len), 0), COALESCE(AVG(content_len), 0) FROM documents`,
	).Scan(&s.avgTitle, &s.avgContent)
	if err != nil {
		return fmt.Errorf("index: search: field stats: %w", err)
	}
	return nil
}

func (s *searcher) eval(n query.Node) (matchSet, error) {
	switch n := n.(type) {
	case *query.Term:
		return s.text(analysis.Terms(n.Text), analysis.FieldTitle, analysis.FieldContent)
	case *query.Phrase:
		return s.text(analysis.Terms(n.Text), analysis.FieldTitle, analysis.FieldContent)
	case *query.FieldFilter:
		return s.field(n)
	case *query.DateRange:
		return s.dateRange(n), nil
	case *query.Group:
		return s.eval(n.Node)
	case *query.Not:
		inner, err := s.eval(n.Node)
		if err != nil {
			return nil, err
		}
		out := make(matchSet)
		for ord := range s.docs {
			if _, ok := inner[ord]; !ok {
				out[ord] = 0
			}
		}
		return out, nil
	case *query.And:
		var acc matchSet
		for _, child := range n.Nodes {
			m, err := s.eval(child)
			if err != nil {
				return nil, err
			}
			if acc == nil {
				acc = m
				continue
			}
			for ord, score := range acc {
				if cs, ok := m[ord]; ok {
					acc[ord] = score + cs
				} else {
					delete(acc, ord)
				}
			}
		}
		return acc, nil
	case *query.Or:
		acc := make(matchSet)
		for _, child := range n.Nodes {
			m, err := s.eval(child)
			if err != nil {
				return nil, err
			}
			for ord, score := range m {
				acc[ord] += score
			}
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("index: search: unsupported node %T", n)
	}
}

func (s *searcher) field(n *query.FieldFilter) (matchSet, error) {
	switch n.Field {
	case query.FieldTitle:
		return s.text(analysis.Terms(n.Value), analysis.FieldTitle)
	case query.FieldTag:
		return s.exact(analysis.FieldTag, n.Value, s.boosts.Tag)
	case query.FieldFolder:
		return s.folder(n.Value)
	default:
		return nil, fmt.Errorf("index: search: unsupported field %q", n.Field)
	}
}

// text scores terms in each field and sums the fields. More than one term
// is matched as a phrase.
func (s *searcher) text(terms []string, fields ...string) (matchSet, error) {
	out := make(matchSet)
	if len(terms) == 0 {
		return out, nil
	}
	for _, f := range fields {
		var (
			m   matchSet
			err error
		)
		if len(terms) == 1 {
			m, err = s.term(f, terms[0])
		} else {
			m, err = s.phrase(f, terms)
		}
		if err != nil {
			return nil, err
		}
		for ord, score := range m {
			out[ord] += score
		}
	}
	return out, nil
}

type posting struct {
	ord       int64
	freq      int
	positions []int
	length    float64
}

func (s *searcher) postings(field, term string) ([]posting, error) {
	rows, err := s.tx.QueryContext(s.ctx, `
		SELECT p.ord, p.freq, p.positions, d.title_len, d.content_len
		FROM postings p JOIN documents d ON d.ord = p.ord
		WHERE p.field = ? AND p.term = ?
	`, field, term)
	if err != nil {
		return nil, fmt.Errorf("index: search: postings %s/%s: %w", field, term, err)
	}
	defer rows.Close()

	var out []posting
	for rows.Next() {
		var (
			p                 posting
			posJSON           string
			titleLen, bodyLen int
		)
		if err := rows.Scan(&p.ord, &p.freq, &posJSON, &titleLen, &bodyLen); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(posJSON), &p.positions); err != nil {
			return nil, fmt.Errorf("index: search: decode positions: %w", err)
		}
		p.length = float64(bodyLen)
		if field == analysis.FieldTitle {
			p.length = float64(titleLen)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *searcher) fieldParams(field string) (avg, boost float64) {
	if field == analysis.FieldTitle {
		return s.avgTitle, s.boosts.Title
	}
	return s.avgContent, s.boosts.Content
}

func (s *searcher) term(field, term string) (matchSet, error) {
	ps, err := s.postings(field, term)
	if err != nil {
		return nil, err
	}
	avg, boost := s.fieldParams(field)
	out := make(matchSet, len(ps))
	for _, p := range ps {
		out[p.ord] = bm25(float64(p.freq), len(ps), len(s.docs), p.length, avg, boost)
	}
	return out, nil
}

// phrase matches documents where terms occur at consecutive positions. The
// phrase count stands in for term frequency of every term.
func (s *searcher) phrase(field string, terms []string) (matchSet, error) {
	lists := make([]map[int64]posting, len(terms))
	for i, t := range terms {
		ps, err := s.postings(field, t)
		if err != nil {
			return nil, err
		}
		lists[i] = make(map[int64]posting, len(ps))
		for _, p := range ps {
			lists[i][p.ord] = p
		}
	}

	avg, boost := s.fieldParams(field)
	out := make(matchSet)
	for ord, first := range lists[0] {
		sets := make([]map[int]struct{}, len(terms))
		present := true
		for i := 1; i < len(terms); i++ {
			p, ok := lists[i][ord]
			if !ok {
				present = false
				break
			}
			sets[i] = make(map[int]struct{}, len(p.positions))
			for _, pos := range p.positions {
				sets[i][pos] = struct{}{}
			}
		}
		if !present {
			continue
		}
		count := 0
		for _, start := range first.positions {
			ok := true
			for i := 1; i < len(terms); i++ {
				if _, hit := sets[i][start+i]; !hit {
					ok = false
					break
				}
			}
			if ok {
				count++
			}
		}
		if count == 0 {
			continue
		}
		var score float64
		for i := range terms {
			score += bm25(float64(count), len(lists[i]), len(s.docs), first.length, avg, boost)
		}
		out[ord] = score
	}
	return out, nil
}

func (s *searcher) exact(field, value string, boost float64) (matchSet, error) {
	rows, err := s.tx.QueryContext(s.ctx, `SELECT ord FROM postings WHERE field = ? AND term = ?`, field, value)
	if err != nil {
		return nil, fmt.Errorf("index: search: %s:%s: %w", field, value, err)
	}
	defer rows.Close()
	out := make(matchSet)
	for rows.Next() {
		var ord int64
		if err := rows.Scan(&ord); err != nil {
			return nil, err
		}
		out[ord] = boost
	}
	return out, rows.Err()
}

// folder matches the note at folder and every note beneath it, by whole
// path segments.
func (s *searcher) folder(folder string) (matchSet, error) {
	out := make(matchSet)
	if folder == "" {
		for ord := range s.docs {
			out[ord] = s.boosts.Path
		}
		return out, nil
	}
	lo, hi := prefixRange(folder)
	rows, err := s.tx.QueryContext(s.ctx,
		`SELECT ord FROM documents WHERE path = ? OR (path >= ? AND path < ?)`, folder, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("index: search: folder %s: %w", folder, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ord int64
		if err := rows.Scan(&ord); err != nil {
			return nil, err
		}
		out[ord] = s.boosts.Path
	}
	return out, rows.Err()
}

// dateRange filters on updated_at without contributing to the score.
func (s *searcher) dateRange(r *query.DateRange) matchSet {
	out := make(matchSet)
	for ord, d := range s.docs {
		if r.From != nil && d.updated < r.From.UnixNano() {
			continue
		}
		if r.To != nil && d.updated > r.To.UnixNano() {
			continue
		}
		out[ord] = 0
	}
	return out
}

func (s *searcher) result(h hit, terms []string) (SearchResult, error) {
	var (
		r        SearchResult
		content  string
		tagsJSON string
		updated  int64
	)
	err := s.tx.QueryRowContext(s.ctx,
		`SELECT path, title, content, tags, updated_at FROM documents WHERE ord = ?`, h.ord,
	).Scan(&r.Path, &r.Title, &content, &tagsJSON, &updated)
	if err != nil {
		return r, fmt.Errorf("index: search: load %s: %w", h.path, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return r, fmt.Errorf("index: search: decode tags of %s: %w", h.path, err)
	}
	r.Score = h.score
	r.UpdatedAt = time.Unix(0, updated).UTC()
	r.Snippet = snippet(content, terms, snippetWidth)
	return r, nil
}

func bm25(tf float64, df, n int, length, avg, boost float64) float64 {
	if avg <= 0 {
		avg = 1
	}
	idf := math.Log(1 + (float64(n-df)+0.5)/(float64(df)+0.5))
	norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*length/avg))
	return boost * idf * norm
}

// highlightTerms collects the analyzed terms of every positive text clause.
func highlightTerms(n query.Node) []string {
	var out []string
	var walk func(query.Node)
	walk = func(n query.Node) {
		switch n := n.(type) {
		case *query.Term:
			out = append(out, analysis.Terms(n.Text)...)
		case *query.Phrase:
			out = append(out, analysis.Terms(n.Text)...)
		case *query.FieldFilter:
			if n.Field == query.FieldTitle {
				out = append(out, analysis.Terms(n.Value)...)
			}
		case *query.Group:
			walk(n.Node)
		case *query.And:
			for _, c := range n.Nodes {
				walk(c)
			}
		case *query.Or:
			for _, c := range n.Nodes {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

// snippet returns about width runes of content centered on the earliest
// occurrence of any term, whitespace collapsed.
func snippet(content string, terms []string, width int) string {
	lower := strings.ToLower(content)
	best := -1
	if len(lower) == len(content) {
		for _, t := range terms {
			if i := strings.Index(lower, t); i >= 0 && (best < 0 || i < best) {
				best = i
			}
		}
	}
	runes := []rune(content)
	from := 0
	if best > 0 {
		from = max(0, utf8.RuneCountInString(content[:best])-width/4)
	}
	to := min(len(runes), from+width)
	out := strings.Join(strings.Fields(string(runes[from:to])), " ")
	if from > 0 {
		out = "..." + out
	}
	if to < len(runes) {
		out += "..."
	}
	return out
}
