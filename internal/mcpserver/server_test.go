package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/notebase/internal/index"
	"github.com/starford/notebase/internal/models"
	"github.com/starford/notebase/internal/noteservice"
	"github.com/starford/notebase/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	env := testutil.TestService(t)
	return New(env.Service, "mcp")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"create_note":       srv.createNote,
		"read_note":         srv.readNote,
		"update_note":       srv.updateNote,
		"delete_note":       srv.deleteNote,
		"search_notes":      srv.searchNotes,
		"browse":            srv.browse,
		"list_tags":         srv.listTags,
		"find_by_tag":       srv.findByTag,
		"get_backlinks":     srv.getBacklinks,
		"recent_notes":      srv.recentNotes,
		"note_history":      srv.noteHistory,
		"read_version":      srv.readVersion,
		"diff_versions":     srv.diffVersions,
		"restore_version":   srv.restoreVersion,
		"rebuild_index":     srv.rebuildIndex,
		"get_note_contract": srv.getNoteContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// mustDecode fails the test on a tool error and unmarshals the JSON text.
func mustDecode[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	var out T
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return out
}

func create(t *testing.T, srv *Server, path, title, content string, tags ...interface{}) {
	t.Helper()
	r := callTool(t, srv, "create_note", map[string]interface{}{
		"path":    path,
		"title":   title,
		"content": content,
		"tags":    tags,
	})
	if r.IsError {
		t.Fatalf("create %s: %s", path, resultText(r))
	}
}

func TestCreateAndReadNote(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"path":    "test",
		"title":   "Test",
		"content": "Hello",
		"tags":    []interface{}{"Go", "notes"},
	})
	res := mustDecode[noteservice.WriteResult](t, r)
	if res.Note.Path != "test" {
		t.Errorf("created path = %q", res.Note.Path)
	}

	note := mustDecode[models.Note](t, callTool(t, srv, "read_note", map[string]interface{}{"path": "test"}))
	if note.Title != "Test" || note.Content != "Hello" {
		t.Errorf("read = %+v", note)
	}
	if diff := cmp.Diff([]string{"go", "notes"}, note.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateNoteRejectsBadPath(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "create_note", map[string]interface{}{
		"path":  "bad.md",
		"title": "Bad",
	})
	if !r.IsError {
		t.Fatal("expected error for path with extension")
	}
	if !strings.Contains(resultText(r), "validation") {
		t.Errorf("error = %q", resultText(r))
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestReadNoteRequiresPath(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error without path")
	}
}

func TestUpdateNoteMoveRewritesBacklinks(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "target", "Target", "")
	create(t, srv, "source", "Source", "see [[target|the target]]")

	r := callTool(t, srv, "update_note", map[string]interface{}{
		"path":     "target",
		"new_path": "archive/target",
		"author":   "bob",
	})
	res := mustDecode[noteservice.WriteResult](t, r)
	if res.Note.Path != "archive/target" {
		t.Errorf("moved path = %q", res.Note.Path)
	}
	if diff := cmp.Diff([]string{"source"}, res.BacklinksUpdated); diff != "" {
		t.Errorf("backlinks updated mismatch (-want +got):\n%s", diff)
	}

	src := mustDecode[models.Note](t, callTool(t, srv, "read_note", map[string]interface{}{"path": "source"}))
	if src.Content != "see [[archive/target|the target]]" {
		t.Errorf("source content = %q", src.Content)
	}
}

func TestUpdateNoteTagDelta(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "n", "N", "", "a", "b")

	r := callTool(t, srv, "update_note", map[string]interface{}{
		"path":        "n",
		"add_tags":    []interface{}{"c"},
		"remove_tags": []interface{}{"a"},
	})
	res := mustDecode[noteservice.WriteResult](t, r)
	if diff := cmp.Diff([]string{"b", "c"}, res.Note.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteNoteReportsBrokenLinks(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "gone", "Gone", "")
	create(t, srv, "linker", "Linker", "[[gone]]")

	res := mustDecode[noteservice.DeleteResult](t, callTool(t, srv, "delete_note", map[string]interface{}{"path": "gone"}))
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != models.WarnBrokenLinks {
		t.Fatalf("warnings = %+v", res.Warnings)
	}
	if res.Warnings[0].Sources[0].Path != "linker" {
		t.Errorf("broken link source = %+v", res.Warnings[0].Sources)
	}
}

func TestSearchNotes(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "go", "Go notes", "goroutines and channels", "lang")
	create(t, srv, "rust", "Rust notes", "ownership and borrowing", "lang")

	page := mustDecode[index.SearchPage](t, callTool(t, srv, "search_notes", map[string]interface{}{
		"query": "channels tag:lang",
	}))
	if len(page.Results) != 1 || page.Results[0].Path != "go" {
		t.Errorf("results = %+v", page.Results)
	}
}

func TestSearchNotesPaging(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "a", "A", "shared")
	create(t, srv, "b", "B", "shared")

	first := mustDecode[index.SearchPage](t, callTool(t, srv, "search_notes", map[string]interface{}{
		"query": "shared",
		"limit": float64(1),
	}))
	if len(first.Results) != 1 || first.NextCursor == "" {
		t.Fatalf("first page = %+v", first)
	}
	second := mustDecode[index.SearchPage](t, callTool(t, srv, "search_notes", map[string]interface{}{
		"query":  "shared",
		"limit":  float64(1),
		"cursor": first.NextCursor,
	}))
	if len(second.Results) != 1 || second.Results[0].Path == first.Results[0].Path {
		t.Errorf("second page = %+v", second)
	}
}

func TestSearchNotesSyntaxError(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "(unclosed"})
	if !r.IsError {
		t.Fatal("expected syntax error")
	}
	if !strings.Contains(resultText(r), "offset") {
		t.Errorf("error = %q, want offset", resultText(r))
	}
}

func TestBrowse(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "top", "Top", "")
	create(t, srv, "projects/alpha", "Alpha", "")
	create(t, srv, "projects/beta/plan", "Plan", "")

	root := mustDecode[noteservice.Listing](t, callTool(t, srv, "browse", map[string]interface{}{}))
	if diff := cmp.Diff([]string{"projects"}, root.Folders); diff != "" {
		t.Errorf("root folders mismatch (-want +got):\n%s", diff)
	}
	if len(root.Notes) != 1 || root.Notes[0].Path != "top" {
		t.Errorf("root notes = %+v", root.Notes)
	}

	sub := mustDecode[noteservice.Listing](t, callTool(t, srv, "browse", map[string]interface{}{"folder": "projects"}))
	if diff := cmp.Diff([]string{"projects/beta"}, sub.Folders); diff != "" {
		t.Errorf("sub folders mismatch (-want +got):\n%s", diff)
	}
}

func TestTags(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "a", "A", "", "x", "y")
	create(t, srv, "b", "B", "", "x")

	tags := mustDecode[[]models.TagCount](t, callTool(t, srv, "list_tags", map[string]interface{}{}))
	want := []models.TagCount{{Tag: "x", Count: 2}, {Tag: "y", Count: 1}}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	notes := mustDecode[[]models.Note](t, callTool(t, srv, "find_by_tag", map[string]interface{}{"tag": "Y"}))
	if len(notes) != 1 || notes[0].Path != "a" {
		t.Errorf("find_by_tag(Y) = %+v", notes)
	}
}

func TestGetBacklinks(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "a", "A", "links to [[b]]")

	rep := mustDecode[noteservice.BacklinkReport](t, callTool(t, srv, "get_backlinks", map[string]interface{}{"path": "b"}))
	if rep.NoteExists {
		t.Error("b should not exist")
	}
	want := []models.BacklinkSource{{Path: "a", Lines: []int{1}}}
	if diff := cmp.Diff(want, rep.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"path": "a"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks(a) = %q", text)
	}
}

func TestRecentNotes(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "first", "First", "")
	create(t, srv, "second", "Second", "")

	notes := mustDecode[[]models.Note](t, callTool(t, srv, "recent_notes", map[string]interface{}{"limit": float64(1)}))
	if len(notes) != 1 || notes[0].Path != "second" {
		t.Errorf("recent = %+v", notes)
	}

	r := callTool(t, srv, "recent_notes", map[string]interface{}{"since": "yesterday"})
	if !r.IsError {
		t.Error("expected error for malformed since")
	}
}

func TestHistoryDiffRestore(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "doc", "Doc", "one")
	_ = mustDecode[noteservice.WriteResult](t, callTool(t, srv, "update_note", map[string]interface{}{
		"path":    "doc",
		"content": "two",
		"author":  "bob",
	}))

	recs := mustDecode[[]models.VersionRecord](t, callTool(t, srv, "note_history", map[string]interface{}{"path": "doc"}))
	if len(recs) != 2 {
		t.Fatalf("history = %+v", recs)
	}
	if recs[0].Operation != models.OpUpdate || recs[0].Author != "bob" {
		t.Errorf("newest record = %+v", recs[0])
	}
	if recs[1].Operation != models.OpCreate || recs[1].Author != "mcp" {
		t.Errorf("oldest record = %+v, want default author", recs[1])
	}
	first := recs[1].CommitID

	old := mustDecode[models.Note](t, callTool(t, srv, "read_version", map[string]interface{}{
		"path": "doc", "version": first,
	}))
	if old.Content != "one" {
		t.Errorf("version content = %q", old.Content)
	}

	d := mustDecode[models.NoteDiff](t, callTool(t, srv, "diff_versions", map[string]interface{}{
		"path": "doc", "from": first,
	}))
	if !strings.Contains(d.Diff, "-one") || !strings.Contains(d.Diff, "+two") {
		t.Errorf("diff = %q", d.Diff)
	}

	res := mustDecode[noteservice.WriteResult](t, callTool(t, srv, "restore_version", map[string]interface{}{
		"path": "doc", "version": first,
	}))
	if res.Note.Content != "one" {
		t.Errorf("restored content = %q", res.Note.Content)
	}
	recs = mustDecode[[]models.VersionRecord](t, callTool(t, srv, "note_history", map[string]interface{}{"path": "doc"}))
	if len(recs) != 3 || recs[0].Operation != models.OpRestore {
		t.Errorf("history after restore = %+v", recs)
	}
}

func TestReadVersionUnknown(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "doc", "Doc", "")
	r := callTool(t, srv, "read_version", map[string]interface{}{
		"path": "doc", "version": "0000000000000000000000000000000000000000",
	})
	if !r.IsError {
		t.Error("expected error for unknown version")
	}
}

func TestRebuildIndex(t *testing.T) {
	srv := testServer(t)
	create(t, srv, "a", "A", "")
	res := mustDecode[noteservice.RebuildResult](t, callTool(t, srv, "rebuild_index", map[string]interface{}{}))
	if res.Reindexed != 1 {
		t.Errorf("reindexed = %d", res.Reindexed)
	}
}

func TestGetNoteContract(t *testing.T) {
	srv := testServer(t)
	text := resultText(callTool(t, srv, "get_note_contract", nil))
	if text != NoteFormatContract {
		t.Error("contract text mismatch")
	}
	contents, err := srv.readNoteFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != formatURI {
		t.Errorf("resource = %+v", contents)
	}
}
