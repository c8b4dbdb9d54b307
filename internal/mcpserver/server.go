// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notebase tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notebase/internal/apperr"
	"github.com/starford/notebase/internal/noteservice"
)

const formatURI = "notebase://note-format"

// Server wraps the MCP server with notebase tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *noteservice.Service
	author string
}

// New creates a new MCP server with all notebase tools registered.
// defaultAuthor is recorded on mutations whose call names no author.
func New(svc *noteservice.Service, defaultAuthor string) *Server {
	s := &Server{svc: svc, author: defaultAuthor}

	s.mcp = server.NewMCPServer(
		"notebase",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	authorOpt := mcp.WithString("author", mcp.Description("Who is making the change; recorded in version history"))

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new note. The path has no .md extension. "+
			"Read the format contract first via the get_note_contract tool or the "+
			formatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative note path without extension (e.g. projects/alpha)")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Human-readable title")),
		mcp.WithString("content", mcp.Description("Markdown body; use [[path]] to link other notes")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags for the note")),
		authorOpt,
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its metadata."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative note path (e.g. projects/alpha)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Change a note's title, content or tags, or move it to new_path. "+
			"Omitted fields are left unchanged. tags replaces the whole set; add_tags and "+
			"remove_tags adjust it. Moving rewrites [[links]] in other notes unless "+
			"update_backlinks is false."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Current note path")),
		mcp.WithString("new_path", mcp.Description("Destination path for a move")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Replacement tag set")),
		mcp.WithArray("add_tags", mcp.WithStringItems(), mcp.Description("Tags to add")),
		mcp.WithArray("remove_tags", mcp.WithStringItems(), mcp.Description("Tags to remove")),
		mcp.WithBoolean("update_backlinks", mcp.Description("Rewrite links in other notes on move (default true)")),
		authorOpt,
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note. Links pointing at it are reported, not removed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the note to delete")),
		authorOpt,
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search. Supports \"phrases\", AND/OR/NOT, -term, "+
			"tag:x, folder:prefix, title:word, since:2024-01-01 and until:now-7d."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum results per page")),
		mcp.WithString("cursor", mcp.Description("Cursor returned by the previous page")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("browse",
		mcp.WithDescription("List the notes and sub-folders directly under a folder."),
		mcp.WithString("folder", mcp.Description("Folder to list (empty for the root)")),
	), s.browse)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag with the number of notes carrying it."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("find_by_tag",
		mcp.WithDescription("List notes carrying a tag."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to look up")),
	), s.findByTag)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("recent_notes",
		mcp.WithDescription("List the most recently updated notes."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes")),
		mcp.WithString("since", mcp.Description("Only notes updated after this RFC 3339 timestamp")),
	), s.recentNotes)

	s.mcp.AddTool(mcp.NewTool("note_history",
		mcp.WithDescription("List the recorded versions of a note, newest first."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of versions")),
	), s.noteHistory)

	s.mcp.AddTool(mcp.NewTool("read_version",
		mcp.WithDescription("Read a note as it was at a given version."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path")),
		mcp.WithString("version", mcp.Required(), mcp.Description("Version id from note_history")),
	), s.readVersion)

	s.mcp.AddTool(mcp.NewTool("diff_versions",
		mcp.WithDescription("Unified diff of a note between two versions."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path")),
		mcp.WithString("from", mcp.Required(), mcp.Description("Older version id")),
		mcp.WithString("to", mcp.Description("Newer version id (default: latest)")),
	), s.diffVersions)

	s.mcp.AddTool(mcp.NewTool("restore_version",
		mcp.WithDescription("Restore a note to an earlier version. The restore is itself recorded as a new version."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path")),
		mcp.WithString("version", mcp.Required(), mcp.Description("Version id to restore")),
		authorOpt,
	), s.restoreVersion)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the search index and link graph from the note files."),
	), s.rebuildIndex)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the notebase note format contract. "+
			"Call this before creating or updating notes to ensure correct structure."),
	), s.getNoteContract)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Note Format Contract",
			mcp.WithResourceDescription("Note format, path rules and link syntax."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// decode unmarshals the call arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}
	return out, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult turns a service error into a tool error. Backend failures
// are reported without detail.
func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		return mcp.NewToolResultError("store unavailable, retry later")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) authorOf(a string) string {
	if a = strings.TrimSpace(a); a != "" {
		return a
	}
	return s.author
}

type createArgs struct {
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Author  string   `json:"author"`
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[createArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Create(ctx, noteservice.CreateInput{
		Path:    args.Path,
		Title:   args.Title,
		Content: args.Content,
		Tags:    args.Tags,
		Author:  s.authorOf(args.Author),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.Read(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(note)
}

type updateArgs struct {
	Path            string   `json:"path"`
	NewPath         *string  `json:"new_path"`
	Title           *string  `json:"title"`
	Content         *string  `json:"content"`
	Tags            []string `json:"tags"`
	AddTags         []string `json:"add_tags"`
	RemoveTags      []string `json:"remove_tags"`
	UpdateBacklinks *bool    `json:"update_backlinks"`
	Author          string   `json:"author"`
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[updateArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Update(ctx, noteservice.UpdateInput{
		Path:            args.Path,
		NewPath:         args.NewPath,
		Title:           args.Title,
		Content:         args.Content,
		Tags:            args.Tags,
		AddTags:         args.AddTags,
		RemoveTags:      args.RemoveTags,
		UpdateBacklinks: args.UpdateBacklinks,
		Author:          s.authorOf(args.Author),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Delete(ctx, path, s.authorOf(req.GetString("author", "")))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := s.svc.Search(ctx, q, req.GetInt("limit", 0), req.GetString("cursor", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(page)
}

func (s *Server) browse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listing, err := s.svc.Browse(ctx, req.GetString("folder", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(listing)
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.svc.ListTags(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(tags)
}

func (s *Server) findByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.FindByTag(ctx, tag)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(notes)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	if len(rep.Sources) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(rep)
}

func (s *Server) recentNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var since time.Time
	if raw := req.GetString("since", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("since must be an RFC 3339 timestamp"), nil
		}
		since = t
	}
	notes, err := s.svc.Recent(ctx, req.GetInt("limit", 0), since)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(notes)
}

func (s *Server) noteHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.svc.History(ctx, path, req.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(recs)
}

func (s *Server) readVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.ReadVersion(ctx, path, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(note)
}

func (s *Server) diffVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Diff(ctx, path, from, req.GetString("to", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(d)
}

func (s *Server) restoreVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Restore(ctx, path, id, s.authorOf(req.GetString("author", "")))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) rebuildIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Rebuild(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
