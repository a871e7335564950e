// Package state persists tasks, QA records and sessions as files.
// Tasks and QA records are Markdown documents with YAML frontmatter;
// sessions are session.json files in a nested directory layout. The
// containing directory is the single source of truth for entity state;
// frontmatter never encodes it.
package state

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

const frontmatterDelimiter = "---"

// encodeFrontmatter renders an entity document: YAML frontmatter
// between --- delimiters followed by the Markdown body.
func encodeFrontmatter(meta any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter, "encoding frontmatter").WithCause(err)
	}
	if err := enc.Close(); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter, "finalizing frontmatter").WithCause(err)
	}

	buf.WriteString(frontmatterDelimiter + "\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// decodeFrontmatter splits a document into raw frontmatter YAML and the
// body. The second return is false when the file has no frontmatter at
// all (legacy format).
func decodeFrontmatter(data []byte) (meta []byte, body string, ok bool) {
	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") && text != frontmatterDelimiter {
		return nil, "", false
	}
	rest := strings.TrimPrefix(text, frontmatterDelimiter+"\n")
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return nil, "", false
	}
	meta = []byte(rest[:end+1])

	body = rest[end+1+len(frontmatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	return meta, body, true
}
