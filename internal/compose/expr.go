package compose

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// evalExpr evaluates the closed conditional grammar:
// has-pack, config, config-eq, env, file-exists, not, and, or.
// A syntactically broken expression yields CodeInvalidExpression (the
// caller preserves the marker); an unknown function name yields
// CodeUnknownFunction and aborts the render.
func evalExpr(tc *TransformContext, expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	name, args, err := splitCall(expr)
	if err != nil {
		return false, err
	}

	switch name {
	case "has-pack":
		if len(args) != 1 {
			return false, invalidExpr(expr, "has-pack takes one argument")
		}
		return tc.HasPack(unquote(args[0])), nil

	case "config":
		if len(args) != 1 {
			return false, invalidExpr(expr, "config takes one argument")
		}
		v, ok := tc.Config.Lookup(unquote(args[0]))
		return ok && truthy(v), nil

	case "config-eq":
		if len(args) != 2 {
			return false, invalidExpr(expr, "config-eq takes two arguments")
		}
		s, ok := tc.Config.LookupString(unquote(args[0]))
		return ok && s == unquote(args[1]), nil

	case "env":
		if len(args) != 1 {
			return false, invalidExpr(expr, "env takes one argument")
		}
		return os.Getenv(unquote(args[0])) != "", nil

	case "file-exists":
		if len(args) != 1 {
			return false, invalidExpr(expr, "file-exists takes one argument")
		}
		rel := unquote(args[0])
		for _, base := range []string{tc.SourceDir, tc.ProjectRoot} {
			if base == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(base, rel)); err == nil {
				return true, nil
			}
		}
		return false, nil

	case "not":
		if len(args) != 1 {
			return false, invalidExpr(expr, "not takes one argument")
		}
		v, err := evalExpr(tc, args[0])
		if err != nil {
			return false, err
		}
		return !v, nil

	case "and":
		if len(args) != 2 {
			return false, invalidExpr(expr, "and takes two arguments")
		}
		left, err := evalExpr(tc, args[0])
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		return evalExpr(tc, args[1])

	case "or":
		if len(args) != 2 {
			return false, invalidExpr(expr, "or takes two arguments")
		}
		left, err := evalExpr(tc, args[0])
		if err != nil {
			return false, err
		}
		if left {
			return true, nil
		}
		return evalExpr(tc, args[1])

	default:
		return false, core.ErrTemplate(core.CodeUnknownFunction,
			"unknown conditional function "+name).
			WithDetail("expression", expr)
	}
}

func invalidExpr(expr, reason string) error {
	return core.ErrTemplate(core.CodeInvalidExpression, reason).WithDetail("expression", expr)
}

// splitCall parses "name(arg1, arg2)" into the function name and its
// top-level arguments. Commas inside nested calls do not split.
func splitCall(expr string) (string, []string, error) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return "", nil, invalidExpr(expr, "expected name(args) form")
	}
	name := strings.TrimSpace(expr[:open])
	inner := expr[open+1 : len(expr)-1]

	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", nil, invalidExpr(expr, "unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, invalidExpr(expr, "unbalanced parentheses")
	}
	if rest := strings.TrimSpace(inner[start:]); rest != "" {
		args = append(args, rest)
	}
	return name, args, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
