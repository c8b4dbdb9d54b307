package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/backup"
	"github.com/starford/notebase/internal/noteservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
	// author is recorded when a request names none.
	author string
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service, defaultAuthor string) *Handler {
	return &Handler{svc: svc, author: defaultAuthor}
}

// notePath extracts the note path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// authorOf picks the mutation author. An authenticated request is recorded
// under its API key name. Without auth it is the body field, then the
// X-Author header, then the configured default.
func (h *Handler) authorOf(r *http.Request, fromBody string) string {
	if name, ok := KeyName(r.Context()); ok {
		return name
	}
	if a := strings.TrimSpace(fromBody); a != "" {
		return a
	}
	if a := strings.TrimSpace(r.Header.Get("X-Author")); a != "" {
		return a
	}
	return h.author
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("%s must be true or false", name)
	}
	return b, nil
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note by path
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	models.Note
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Read(r.Context(), notePath(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	noteservice.WriteResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), noteservice.CreateInput{
		Path:    req.Path,
		Title:   req.Title,
		Content: req.Content,
		Tags:    req.Tags,
		Author:  h.authorOf(r, req.Author),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// UpdateNote handles PUT /api/notes/*.
//
//	@Summary		Update, retag or move a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Note path"
//	@Param			body	body		UpdateNoteRequest	true	"Fields to change"
//	@Success		200		{object}	noteservice.WriteResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Update(r.Context(), noteservice.UpdateInput{
		Path:            notePath(r),
		NewPath:         req.NewPath,
		Title:           req.Title,
		Content:         req.Content,
		Tags:            req.Tags,
		AddTags:         req.AddTags,
		RemoveTags:      req.RemoveTags,
		UpdateBacklinks: req.UpdateBacklinks,
		Author:          h.authorOf(r, req.Author),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteNote handles DELETE /api/notes/*.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			path	path	string	true	"Note path"
//	@Success		200		{object}	noteservice.DeleteResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Delete(r.Context(), notePath(r), h.authorOf(r, r.URL.Query().Get("author")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Param			cursor	query		string	false	"Cursor from the previous page"
//	@Success		200		{object}	index.SearchPage
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.svc.Search(r.Context(), q, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Browse handles GET /api/browse and GET /api/browse/*.
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.Browse(r.Context(), notePath(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// ListTags handles GET /api/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ListTags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags})
}

// FindByTag handles GET /api/tags/{tag}.
func (h *Handler) FindByTag(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.FindByTag(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// Backlinks handles GET /api/backlinks/*.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Backlinks(r.Context(), notePath(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Recent handles GET /api/recent?limit=&since=. since is RFC 3339.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, apperr.Validation("since must be an RFC 3339 timestamp"))
			return
		}
	}
	notes, err := h.svc.Recent(r.Context(), limit, since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes})
}

// History handles GET /api/history/*.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	path := notePath(r)
	recs, err := h.svc.History(r.Context(), path, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Path: path, Versions: recs})
}

// ReadVersion handles GET /api/versions/{id}/*.
func (h *Handler) ReadVersion(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.ReadVersion(r.Context(), notePath(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Diff handles GET /api/diff/*?from=&to=. An empty to compares against the
// latest version.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := h.svc.Diff(r.Context(), notePath(r), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Restore handles POST /api/restore/*.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Restore(r.Context(), notePath(r), req.Version, h.authorOf(r, req.Author))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Rebuild handles POST /api/rebuild.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Rebuild(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// maxArchiveBytes bounds an uploaded import archive.
const maxArchiveBytes = 512 << 20

// Export handles GET /api/export. The body is a tar.gz of every note.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := h.svc.Export(r.Context(), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+backup.FileName(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Import handles POST /api/import?replace=true. The body is a tar.gz
// archive as produced by Export.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	replace, err := boolParam(r, "replace")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Import(r.Context(), http.MaxBytesReader(w, r.Body, maxArchiveBytes), replace)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Clear handles POST /api/clear?confirm=yes.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "yes" {
		writeError(w, r, apperr.Validation("clear deletes every note; pass confirm=yes"))
		return
	}
	res, err := h.svc.Clear(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
