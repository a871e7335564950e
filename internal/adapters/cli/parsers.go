// Package cli runs validator engines as external commands: building
// command lines from configuration, parsing verdicts out of raw agent
// output, and generating delegation instructions for engines that
// cannot run locally.
package cli

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// Parser derives a verdict and a one-line summary from raw engine
// output. Ambiguous output yields VerdictPending, never an error.
type Parser interface {
	Name() string
	Parse(output string) (core.Verdict, string)
}

// markerParser scans output for verdict markers. The last marker wins
// so agents can reason out loud before their final line; conflicting
// verdicts without a clear final marker come back pending.
type markerParser struct {
	name    string
	approve []string
	reject  []string
	blocked []string
}

var finalVerdictRe = regexp.MustCompile(`(?im)^\s*(?:final\s+)?verdict\s*[:=]\s*(\w+)`)

func (p *markerParser) Name() string { return p.name }

func (p *markerParser) Parse(output string) (core.Verdict, string) {
	// An explicit verdict line always wins.
	if matches := finalVerdictRe.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		word := strings.ToLower(matches[len(matches)-1][1])
		switch {
		case strings.HasPrefix(word, "approv"):
			return core.VerdictApprove, summaryLine(output)
		case strings.HasPrefix(word, "reject"):
			return core.VerdictReject, summaryLine(output)
		case strings.HasPrefix(word, "block"):
			return core.VerdictBlocked, summaryLine(output)
		}
	}

	// Otherwise exactly one marker category must match; anything else
	// is ambiguous and stays pending.
	lower := strings.ToLower(output)
	matched := map[core.Verdict]bool{}
	if containsAny(lower, p.approve) {
		matched[core.VerdictApprove] = true
	}
	if containsAny(lower, p.reject) {
		matched[core.VerdictReject] = true
	}
	if containsAny(lower, p.blocked) {
		matched[core.VerdictBlocked] = true
	}
	if len(matched) != 1 {
		return core.VerdictPending, summaryLine(output)
	}
	for verdict := range matched {
		return verdict, summaryLine(output)
	}
	return core.VerdictPending, summaryLine(output)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// summaryLine picks the first non-empty line as a short summary.
func summaryLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return ""
}

// ParserRegistry maps parser names from engine configuration to
// implementations.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewParserRegistry creates a registry preloaded with the built-in
// parsers.
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]Parser)}
	for _, p := range builtinParsers() {
		r.parsers[p.Name()] = p
	}
	return r
}

// Register adds or overrides a parser.
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Name()] = p
}

// Get resolves a parser by name, falling back to plain_text.
func (r *ParserRegistry) Get(name string) Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.parsers[name]; ok {
		return p
	}
	return r.parsers["plain_text"]
}

// Names lists the registered parser names.
func (r *ParserRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	return names
}

// builtinParsers covers the known agent CLIs. The marker sets reflect
// how each binary phrases its final assessment; plain_text is the
// conservative fallback.
func builtinParsers() []Parser {
	plain := []string{"approved", "rejected", "blocked"}
	return []Parser{
		&markerParser{name: "codex",
			approve: []string{"approved", "lgtm"},
			reject:  []string{"rejected", "changes required"},
			blocked: []string{"blocked", "cannot review"}},
		&markerParser{name: "claude",
			approve: []string{"approved", "approve"},
			reject:  []string{"rejected", "reject"},
			blocked: []string{"blocked"}},
		&markerParser{name: "gemini",
			approve: []string{"approved"},
			reject:  []string{"rejected"},
			blocked: []string{"blocked"}},
		&markerParser{name: "auggie",
			approve: []string{"approved", "pass"},
			reject:  []string{"rejected", "fail"},
			blocked: []string{"blocked"}},
		&markerParser{name: "coderabbit",
			approve: []string{"approved", "lgtm"},
			reject:  []string{"rejected", "needs work"},
			blocked: []string{"blocked"}},
		&markerParser{name: "plain_text",
			approve: []string{plain[0]},
			reject:  []string{plain[1]},
			blocked: []string{plain[2]}},
	}
}

// parserManifest declares project-local parsers. Each entry picks a
// built-in marker strategy and supplies its own marker sets; there is
// no runtime code loading.
type parserManifest struct {
	Parsers []parserManifestEntry `yaml:"parsers"`
}

type parserManifestEntry struct {
	Name           string   `yaml:"name"`
	ApproveMarkers []string `yaml:"approve_markers"`
	RejectMarkers  []string `yaml:"reject_markers"`
	BlockedMarkers []string `yaml:"blocked_markers"`
}

// LoadManifest registers project parsers from parsers/manifest.yml. A
// missing manifest is not an error.
func (r *ParserRegistry) LoadManifest(parsersDir string) error {
	data, err := os.ReadFile(filepath.Join(parsersDir, "manifest.yml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.ErrConfig(core.CodeInvalidYAML, "reading parser manifest").WithCause(err)
	}
	var manifest parserManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return core.ErrConfig(core.CodeInvalidYAML, "parsing parser manifest").WithCause(err)
	}
	for _, entry := range manifest.Parsers {
		if entry.Name == "" {
			return core.ErrConfig(core.CodeMissingKey, "parser manifest entry without a name")
		}
		r.Register(&markerParser{
			name:    entry.Name,
			approve: lowered(entry.ApproveMarkers),
			reject:  lowered(entry.RejectMarkers),
			blocked: lowered(entry.BlockedMarkers),
		})
	}
	return nil
}

func lowered(markers []string) []string {
	out := make([]string, len(markers))
	for i, m := range markers {
		out[i] = strings.ToLower(m)
	}
	return out
}
