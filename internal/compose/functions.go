package compose

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// Function is a registered template callable. Functions are pure over
// their arguments unless NeedsContext is set, in which case they also
// see the TransformContext.
type Function struct {
	Name         string
	NeedsContext bool
	Call         func(tc *TransformContext, args []any) (string, error)
}

// Registry holds template functions. Later registrations override
// earlier ones, which gives layered manifests (core, packs, project)
// their precedence for free.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewRegistry creates a registry pre-populated with the built-in
// function set.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Function)}
	for _, f := range builtins() {
		r.funcs[f.Name] = f
	}
	return r
}

// RegisterFunc installs or overrides a function.
func (r *Registry) RegisterFunc(f Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[f.Name] = f
}

// Get returns a function by name.
func (r *Registry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Names returns the registered function names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// manifest is the declarative function file format. Every entry maps a
// template-visible name onto one of the built-in action kinds; there is
// no runtime code loading.
type manifest struct {
	Functions []manifestEntry `yaml:"functions"`
}

type manifestEntry struct {
	Name      string `yaml:"name"`
	Action    string `yaml:"action"`
	Separator string `yaml:"separator"`
	Layout    string `yaml:"layout"`
	Fallback  string `yaml:"fallback"`
}

// LoadManifest registers the functions declared in a manifest.yml.
// A missing file is not an error so every layer can omit it.
func (r *Registry) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.ErrTemplate(core.CodeUnknownFunction, "reading function manifest "+path).WithCause(err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return core.ErrTemplate(core.CodeUnknownFunction, "parsing function manifest "+path).WithCause(err)
	}

	for _, entry := range m.Functions {
		f, err := fromManifestEntry(entry)
		if err != nil {
			return err
		}
		r.RegisterFunc(f)
	}
	return nil
}

// fromManifestEntry binds a manifest declaration to a built-in action.
func fromManifestEntry(entry manifestEntry) (Function, error) {
	base, ok := builtinByName(entry.Action)
	if !ok {
		return Function{}, core.ErrTemplate(core.CodeUnknownFunction,
			fmt.Sprintf("manifest function %q names unknown action %q", entry.Name, entry.Action))
	}

	f := Function{Name: entry.Name, NeedsContext: base.NeedsContext}
	switch entry.Action {
	case "join":
		sep := entry.Separator
		f.Call = func(tc *TransformContext, args []any) (string, error) {
			if sep != "" {
				args = append([]any{sep}, args...)
			}
			return base.Call(tc, args)
		}
	case "now":
		layout := entry.Layout
		f.Call = func(tc *TransformContext, args []any) (string, error) {
			if layout != "" && len(args) == 0 {
				args = []any{layout}
			}
			return base.Call(tc, args)
		}
	case "default":
		fallback := entry.Fallback
		f.Call = func(tc *TransformContext, args []any) (string, error) {
			if fallback != "" && len(args) == 1 {
				args = append(args, fallback)
			}
			return base.Call(tc, args)
		}
	default:
		f.Call = base.Call
	}
	return f, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func builtinByName(name string) (Function, bool) {
	for _, f := range builtins() {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

func builtins() []Function {
	return []Function{
		{
			Name: "upper",
			Call: func(_ *TransformContext, args []any) (string, error) {
				return strings.ToUpper(argString(args, 0)), nil
			},
		},
		{
			Name: "lower",
			Call: func(_ *TransformContext, args []any) (string, error) {
				return strings.ToLower(argString(args, 0)), nil
			},
		},
		{
			// join(sep, items...) — items may be scalars or a single list.
			Name: "join",
			Call: func(_ *TransformContext, args []any) (string, error) {
				if len(args) == 0 {
					return "", nil
				}
				sep := argString(args, 0)
				var parts []string
				for _, arg := range args[1:] {
					if list, ok := arg.([]any); ok {
						for _, item := range list {
							parts = append(parts, stringify(item))
						}
						continue
					}
					parts = append(parts, stringify(arg))
				}
				return strings.Join(parts, sep), nil
			},
		},
		{
			// default(value, fallback) — fallback when value is empty.
			Name: "default",
			Call: func(_ *TransformContext, args []any) (string, error) {
				if len(args) < 2 {
					return argString(args, 0), nil
				}
				if v := argString(args, 0); v != "" {
					return v, nil
				}
				return argString(args, 1), nil
			},
		},
		{
			Name: "env",
			Call: func(_ *TransformContext, args []any) (string, error) {
				return os.Getenv(argString(args, 0)), nil
			},
		},
		{
			Name: "now",
			Call: func(_ *TransformContext, args []any) (string, error) {
				layout := time.RFC3339
				if len(args) > 0 {
					layout = argString(args, 0)
				}
				return time.Now().UTC().Format(layout), nil
			},
		},
		{
			Name: "slug",
			Call: func(_ *TransformContext, args []any) (string, error) {
				s := strings.ToLower(argString(args, 0))
				s = slugRe.ReplaceAllString(s, "-")
				return strings.Trim(s, "-"), nil
			},
		},
		{
			// template-name() — demonstrates context-aware functions.
			Name:         "template-name",
			NeedsContext: true,
			Call: func(tc *TransformContext, _ []any) (string, error) {
				return tc.TemplateName, nil
			},
		},
	}
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	return stringify(args[i])
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseArgs turns call-site argument text into typed values. Quoted
// strings stay strings; bare tokens are tried as bool, int, float and
// finally as a context-variable reference before falling back to the
// raw token.
func parseArgs(tc *TransformContext, tokens []string) []any {
	args := make([]any, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') {
			args = append(args, unquote(tok))
			continue
		}
		if tok == "true" || tok == "false" {
			args = append(args, tok == "true")
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			args = append(args, n)
			continue
		}
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			args = append(args, f)
			continue
		}
		if v, ok := tc.Var(tok); ok {
			args = append(args, v)
			continue
		}
		args = append(args, tok)
	}
	return args
}

// splitCallArgs splits "a, b, c" at top-level commas respecting quotes.
func splitCallArgs(inner string) []string {
	var tokens []string
	var quote byte
	start := 0
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ',':
			tokens = append(tokens, inner[start:i])
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(inner[start:]); rest != "" {
		tokens = append(tokens, rest)
	}
	return tokens
}
