package mcpserver

// NoteFormatContract describes how notes are addressed, stored and linked,
// for LLM consumers that create or update notes.
const NoteFormatContract = `# notebase Note Format

Notes are created and changed through the tools; the server writes the file.
You supply path, title, content and tags separately. Do not put frontmatter
in the content.

## Paths

- Segments of letters, digits, ` + "`_`" + ` or ` + "`-`" + `, joined by ` + "`/`" + `:
  ` + "`projects/alpha`" + `, ` + "`daily/2025-01-20`" + `.
- No ` + "`.md`" + ` extension, no leading or trailing slash, no ` + "`..`" + `.
- At most 255 characters. A folder exists only while a note lives under it.

## Fields

- **title**: required, 1 to 200 characters after trimming.
- **tags**: lowercase letters, digits, ` + "`_`" + ` and ` + "`-`" + `, up to 64 characters each.
  They are lowercased, deduplicated and sorted on write.
- **content**: Markdown, UTF-8.
- **created_at / updated_at**: maintained by the server.

## Links

- ` + "`[[other/note]]`" + ` links to the note at that path.
- ` + "`[[other/note|display text]]`" + ` keeps its display text when the target moves.
- A link must open and close on the same line.
- Links to paths that do not exist yet are kept and show up as backlinks once
  the target is created.
- Moving a note rewrites links in other notes unless update_backlinks is false.
  Deleting a note leaves links in place and reports them as broken.

## Stored file

Each note is kept as ` + "`<path>.md`" + ` with YAML frontmatter:

` + "```" + `markdown
---
title: Weekly standup 2025-01-20
tags: [meeting-notes, project-x]
created: 2025-01-20T09:00:00Z
updated: 2025-01-20T09:30:00Z
---
Attendees: Alice, Bob.

- [[people/alice]] to review the [[design-doc]]
- Bob to update [[project-x/roadmap|the roadmap]]
` + "```" + `

## History

Every change made through the tools is recorded as a version with its author.
Use note_history, read_version, diff_versions and restore_version to inspect
or roll back. A restore is itself a new version.
`
