package evidence

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

const reportDelimiter = "---"

// encodeReport renders a validator report as YAML frontmatter followed
// by its Markdown body.
func encodeReport(report *core.ValidatorReport) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(reportDelimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"encoding validator report frontmatter").WithCause(err)
	}
	if err := enc.Close(); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"closing report encoder").WithCause(err)
	}
	buf.WriteString(reportDelimiter + "\n")
	if report.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(report.Body)
		if !strings.HasSuffix(report.Body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// decodeReport splits frontmatter from body and decodes the report.
func decodeReport(data []byte) (*core.ValidatorReport, error) {
	content := string(data)
	if !strings.HasPrefix(content, reportDelimiter+"\n") {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"validator report has no frontmatter block")
	}
	rest := content[len(reportDelimiter)+1:]
	idx := strings.Index(rest, "\n"+reportDelimiter)
	if idx < 0 {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"validator report frontmatter is not terminated")
	}
	meta := rest[:idx+1]
	body := rest[idx+len(reportDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	var report core.ValidatorReport
	if err := yaml.Unmarshal([]byte(meta), &report); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"malformed validator report frontmatter").WithCause(err)
	}
	report.Body = body
	return &report, nil
}
