package logging

import "regexp"

// Sanitizer redacts sensitive information from log output. Validator
// engines shell out to external CLIs whose stderr can echo API keys, so
// everything routed through the logger passes through here.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		`sk-[A-Za-z0-9]{20,}`,          // OpenAI
		`sk-ant-[a-zA-Z0-9-]{40,}`,     // Anthropic
		`AIza[a-zA-Z0-9_-]{35}`,        // Google AI
		`gh[pous]_[A-Za-z0-9]{36}`,     // GitHub tokens
		`AKIA[0-9A-Z]{16}`,             // AWS access key
		`xox[baprs]-[0-9a-zA-Z-]{10,}`, // Slack
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom redaction pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
