package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/noteservice"
	"github.com/starford/notebase/internal/testutil"
)

// testEnv sets up a temp vault, index, history, service and router.
// An empty authToken means disabled mode; otherwise it is the token of the
// key named "tester-key".
func testEnv(t *testing.T, authToken string) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.TestService(t)
	var keys map[string]string
	if authToken != "" {
		keys = map[string]string{"tester-key": authToken}
	}
	router := NewRouter(env.Service, authToken != "", keys, "tester")
	return env, router
}

func do(t *testing.T, router http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, w.Body.String())
	}
	return v
}

func createNote(t *testing.T, router http.Handler, path, title, content string, tags ...string) {
	t.Helper()
	w := do(t, router, http.MethodPost, "/notes", CreateNoteRequest{Path: path, Title: title, Content: content, Tags: tags})
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s = %d, body = %s", path, w.Code, w.Body.String())
	}
}

func TestCreateAndGetNote(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "notes/hello", "Hello", "World", "Greeting")

	w := do(t, router, http.MethodGet, "/notes/notes/hello", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	note := decode[models.Note](t, w)
	if note.Path != "notes/hello" || note.Title != "Hello" || note.Content != "World" {
		t.Errorf("note = %+v", note)
	}
	if diff := cmp.Diff([]string{"greeting"}, note.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}

	// Encoded slashes are accepted.
	w = do(t, router, http.MethodGet, "/notes/notes%2Fhello", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded path status = %d", w.Code)
	}
}

func TestCreate_ErrorMapping(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "dup", "Dup", "")

	tests := []struct {
		name string
		req  CreateNoteRequest
		want int
	}{
		{"duplicate", CreateNoteRequest{Path: "dup", Title: "Again"}, http.StatusConflict},
		{"bad path", CreateNoteRequest{Path: "../escape", Title: "T"}, http.StatusBadRequest},
		{"missing title", CreateNoteRequest{Path: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/notes", tt.req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := do(t, router, http.MethodPost, "/notes", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d", w.Code)
	}
}

func TestCreate_AuthorRequiredWithoutDefault(t *testing.T) {
	env := testutil.TestService(t)
	router := NewRouter(env.Service, false, nil, "")

	w := do(t, router, http.MethodPost, "/notes", CreateNoteRequest{Path: "a", Title: "A"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/notes", CreateNoteRequest{Path: "a", Title: "A"}, "X-Author", "header-author")
	if w.Code != http.StatusCreated {
		t.Fatalf("with header status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodGet, "/history/a", nil)
	hist := decode[HistoryResponse](t, w)
	if len(hist.Versions) != 1 || hist.Versions[0].Author != "header-author" {
		t.Errorf("history = %+v", hist)
	}
}

func TestUpdate_MoveRewritesBacklinks(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "b", "B", "")
	createNote(t, router, "a", "A", "See [[b]]")

	newPath := "archive/b"
	w := do(t, router, http.MethodPut, "/notes/b", UpdateNoteRequest{NewPath: &newPath})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[noteservice.WriteResult](t, w)
	if res.Note.Path != "archive/b" || !cmp.Equal(res.BacklinksUpdated, []string{"a"}) {
		t.Errorf("result = %+v", res)
	}

	w = do(t, router, http.MethodGet, "/backlinks/archive/b", nil)
	rep := decode[noteservice.BacklinkReport](t, w)
	if !rep.NoteExists || len(rep.Sources) != 1 || rep.Sources[0].Path != "a" {
		t.Errorf("backlinks = %+v", rep)
	}
}

func TestUpdate_MixedTagsRejected(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "n", "N", "")

	w := do(t, router, http.MethodPut, "/notes/n", UpdateNoteRequest{Tags: []string{"a"}, AddTags: []string{"b"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	title := "T"
	w = do(t, router, http.MethodPut, "/notes/missing", UpdateNoteRequest{Title: &title})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note status = %d, want 404", w.Code)
	}
}

func TestDeleteNote_ReportsBrokenLinks(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "target", "Target", "")
	createNote(t, router, "src", "Src", "[[target]]")

	w := do(t, router, http.MethodDelete, "/notes/target", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	res := decode[noteservice.DeleteResult](t, w)
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != models.WarnBrokenLinks {
		t.Errorf("warnings = %+v", res.Warnings)
	}

	w = do(t, router, http.MethodGet, "/notes/target", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/notes/target", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint_Paginates(t *testing.T) {
	_, router := testEnv(t, "")
	for _, p := range []string{"m1", "m2", "m3"} {
		createNote(t, router, p, "MCP "+p, "about mcp")
	}
	createNote(t, router, "other", "Other", "nothing here")

	seen := map[string]int{}
	cursor := ""
	for range 5 {
		target := "/search?q=mcp&limit=2"
		if cursor != "" {
			target += "&cursor=" + cursor
		}
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
		}
		page := decode[index.SearchPage](t, w)
		for _, r := range page.Results {
			seen[r.Path]++
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if diff := cmp.Diff(map[string]int{"m1": 1, "m2": 1, "m3": 1}, seen); diff != "" {
		t.Errorf("seen (-want +got):\n%s", diff)
	}
}

func TestSearchEndpoint_Errors(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/search?q=%28open", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("syntax error = %d, want 400", w.Code)
	}
	body := decode[errResponse](t, w)
	if body.Offset == nil || *body.Offset != 0 || body.Token != "(" {
		t.Errorf("syntax error body = %+v", body)
	}

	w = do(t, router, http.MethodGet, "/search?q=x&cursor=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodGet, "/search?q=x&limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

func TestBrowseTagsRecent(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "projects/alpha", "Alpha", "", "work")
	createNote(t, router, "projects/beta", "Beta", "", "work", "draft")
	createNote(t, router, "inbox", "Inbox", "")

	w := do(t, router, http.MethodGet, "/browse", nil)
	root := decode[noteservice.Listing](t, w)
	if !cmp.Equal(root.Folders, []string{"projects"}) || len(root.Notes) != 1 {
		t.Errorf("root listing = %+v", root)
	}
	w = do(t, router, http.MethodGet, "/browse/projects", nil)
	proj := decode[noteservice.Listing](t, w)
	if len(proj.Notes) != 2 {
		t.Errorf("projects listing = %+v", proj)
	}
	w = do(t, router, http.MethodGet, "/browse/nowhere", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("browse missing = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodGet, "/tags", nil)
	tags := decode[TagListResponse](t, w)
	want := []models.TagCount{{Tag: "draft", Count: 1}, {Tag: "work", Count: 2}}
	if diff := cmp.Diff(want, tags.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
	w = do(t, router, http.MethodGet, "/tags/draft", nil)
	byTag := decode[NoteListResponse](t, w)
	if len(byTag.Notes) != 1 || byTag.Notes[0].Path != "projects/beta" {
		t.Errorf("by tag = %+v", byTag)
	}

	w = do(t, router, http.MethodGet, "/recent?limit=1", nil)
	recent := decode[NoteListResponse](t, w)
	if len(recent.Notes) != 1 || recent.Notes[0].Path != "inbox" {
		t.Errorf("recent = %+v", recent)
	}
	w = do(t, router, http.MethodGet, "/recent?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d, want 400", w.Code)
	}
}

func TestVersionsDiffRestore(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "doc", "Doc", "one\n")
	content := "two\n"
	if w := do(t, router, http.MethodPut, "/notes/doc", UpdateNoteRequest{Content: &content}); w.Code != http.StatusOK {
		t.Fatalf("update = %d", w.Code)
	}

	hist := decode[HistoryResponse](t, do(t, router, http.MethodGet, "/history/doc", nil))
	if len(hist.Versions) != 2 {
		t.Fatalf("versions = %+v", hist.Versions)
	}
	first := hist.Versions[1].CommitID

	w := do(t, router, http.MethodGet, "/versions/"+first[:7]+"/doc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read version = %d, body = %s", w.Code, w.Body.String())
	}
	if v := decode[models.Note](t, w); v.Content != "one\n" {
		t.Errorf("version content = %q", v.Content)
	}
	w = do(t, router, http.MethodGet, "/versions/"+first[:7]+"/elsewhere", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("version of other note = %d, want 404", w.Code)
	}

	d := decode[models.NoteDiff](t, do(t, router, http.MethodGet, "/diff/doc?from="+first, nil))
	if d.Additions == 0 || d.Deletions == 0 {
		t.Errorf("diff = %+v", d)
	}

	w = do(t, router, http.MethodPost, "/restore/doc", RestoreRequest{Version: first})
	if w.Code != http.StatusOK {
		t.Fatalf("restore = %d, body = %s", w.Code, w.Body.String())
	}
	if res := decode[noteservice.WriteResult](t, w); res.Note.Content != "one\n" {
		t.Errorf("restored = %+v", res.Note)
	}
	hist = decode[HistoryResponse](t, do(t, router, http.MethodGet, "/history/doc", nil))
	if len(hist.Versions) != 3 || hist.Versions[0].Operation != models.OpRestore {
		t.Errorf("history after restore = %+v", hist.Versions)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "a", "A", "")
	w := do(t, router, http.MethodPost, "/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d", w.Code)
	}
	if res := decode[noteservice.RebuildResult](t, w); res.Reindexed != 1 {
		t.Errorf("rebuild = %+v", res)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/tags", nil, "Authorization", "Bearer secret")
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/tags", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/tags", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/tags", nil)
	if w.Code != http.StatusOK {
		t.Errorf("disabled mode = %d", w.Code)
	}
}

func TestAuth_AuthorIsKeyName(t *testing.T) {
	env := testutil.TestService(t)
	keys := map[string]string{"claude": "k-claude", "ci": "k-ci"}
	router := NewRouter(env.Service, true, keys, "fallback")

	w := do(t, router, http.MethodPost, "/notes",
		CreateNoteRequest{Path: "a", Title: "A", Author: "someone-else"},
		"Authorization", "Bearer k-ci", "X-Author", "spoofed")
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodDelete, "/notes/a?author=spoofed", nil, "Authorization", "Bearer k-claude")
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d, body = %s", w.Code, w.Body.String())
	}

	recs, err := env.History.History(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var authors []string
	for _, r := range recs {
		authors = append(authors, r.Author)
	}
	if diff := cmp.Diff([]string{"claude", "ci"}, authors); diff != "" {
		t.Errorf("authors (-want +got):\n%s", diff)
	}
}

func TestKeyName_FromMiddleware(t *testing.T) {
	var got string
	h := AuthMiddleware(true, map[string]string{"ops": "t"})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = KeyName(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "ops" {
		t.Errorf("KeyName = %q, want ops", got)
	}

	if _, ok := KeyName(context.Background()); ok {
		t.Error("KeyName on a bare context should report false")
	}
}

func TestExportImportClear(t *testing.T) {
	_, src := testEnv(t, "")
	createNote(t, src, "b", "B", "")
	createNote(t, src, "a", "A", "See [[b]]", "work")

	w := do(t, src, http.MethodGet, "/export", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/gzip" {
		t.Fatalf("export = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	archive := w.Body.Bytes()

	_, dst := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/import?replace=true", bytes.NewReader(archive))
	rec := httptest.NewRecorder()
	dst.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import = %d, body = %s", rec.Code, rec.Body.String())
	}
	res := decode[noteservice.BackupResult](t, rec)
	if res.Imported != 2 || res.Rebuild == nil || res.Rebuild.Reindexed != 2 {
		t.Errorf("import result = %+v", res)
	}
	w = do(t, dst, http.MethodGet, "/backlinks/b", nil)
	if rep := decode[noteservice.BacklinkReport](t, w); len(rep.Sources) != 1 {
		t.Errorf("backlinks after import = %+v", rep)
	}

	if w = do(t, dst, http.MethodPost, "/clear", nil); w.Code != http.StatusBadRequest {
		t.Errorf("clear without confirm = %d, want 400", w.Code)
	}
	if w = do(t, dst, http.MethodPost, "/clear?confirm=yes", nil); w.Code != http.StatusOK {
		t.Fatalf("clear = %d, body = %s", w.Code, w.Body.String())
	}
	if w = do(t, dst, http.MethodGet, "/notes/a", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after clear = %d, want 404", w.Code)
	}
}

func TestImport_RejectsGarbage(t *testing.T) {
	_, router := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/import", bytes.NewBufferString("nope"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("import garbage = %d, want 400", rec.Code)
	}
	if w := do(t, router, http.MethodPost, "/import?replace=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad replace flag = %d, want 400", w.Code)
	}
}
