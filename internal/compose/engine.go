package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// DefaultMaxIncludeDepth bounds include recursion when the context does
// not set its own cap.
const DefaultMaxIncludeDepth = 10

var (
	includeRe         = regexp.MustCompile(`\{\{include:([^}]+)\}\}`)
	includeOptionalRe = regexp.MustCompile(`\{\{include-optional:([^}]+)\}\}`)
	includeSectionRe  = regexp.MustCompile(`\{\{include-section:([^#}]+)#([^}]+)\}\}`)
	includeIfRe       = regexp.MustCompile(`\{\{include-if:([^:}]+(?:\([^{}]*\))?):([^}]+)\}\}`)
	ifBlockRe         = regexp.MustCompile(`(?s)\{\{if:([^}]+)\}\}(.*?)\{\{/if\}\}`)
	eachBlockRe       = regexp.MustCompile(`(?s)\{\{#each ([A-Za-z0-9_.-]+)\}\}(.*?)\{\{/each\}\}`)
	thisFieldRe       = regexp.MustCompile(`\{\{this\.([A-Za-z0-9_.-]+)\}\}`)
	configVarRe       = regexp.MustCompile(`\{\{config\.([A-Za-z0-9_.-]+)\}\}`)
	functionCallRe    = regexp.MustCompile(`\{\{function:([A-Za-z0-9_-]+)\(([^{}]*)\)\}\}`)
	fnCallRe          = regexp.MustCompile(`\{\{fn:([A-Za-z0-9_-]+)((?:\s+[^{}\s]+)*)\}\}`)
	referenceRe       = regexp.MustCompile(`\{\{reference-section:([^#}]+)#([^|}]+)\|([^}]+)\}\}`)
	anyMarkerRe       = regexp.MustCompile(`\{\{[^{}]+\}\}`)
	sectionMarkerRe   = regexp.MustCompile(`(?m)^[ \t]*<!--\s*/?SECTION:\s*[^>]*-->[ \t]*\n?`)
)

// Engine runs the ordered transformation pipeline over a template.
type Engine struct {
	registry *Registry
	log      *logging.Logger
}

// New creates a composition engine.
func New(registry *Registry, log *logging.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{registry: registry, log: log}
}

// Registry exposes the function registry for manifest loading.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Render runs every pipeline step in order and returns the final
// content together with the transformation report.
func (e *Engine) Render(content string, tc *TransformContext) (string, *Report, error) {
	if tc.Report == nil {
		tc.Report = &Report{}
	}
	tc.Report.SourceLayers = append([]string(nil), tc.SourceLayers...)
	if tc.MaxIncludeDepth <= 0 {
		tc.MaxIncludeDepth = DefaultMaxIncludeDepth
	}

	steps := []func(string, *TransformContext) (string, error){
		e.stepIncludes,
		e.stepSections,
		e.stepConditionals,
		e.stepLoops,
		e.stepConfigVars,
		e.stepContextVars,
		e.stepPathVars,
		e.stepFunctions,
		e.stepReferences,
	}
	var err error
	for _, step := range steps {
		content, err = step(content, tc)
		if err != nil {
			return "", tc.Report, err
		}
	}
	content = e.stepValidate(content, tc)

	e.log.Debug("template rendered",
		"template", tc.TemplateName,
		"includes", len(tc.Report.IncludesResolved),
		"unresolved", len(tc.Report.UnresolvedMarkers))
	return content, tc.Report, nil
}

// stepIncludes resolves required and optional includes recursively,
// bounded by the depth cap and a per-chain seen-set for cycles.
func (e *Engine) stepIncludes(content string, tc *TransformContext) (string, error) {
	return e.resolveIncludes(content, tc, 0, map[string]bool{}), nil
}

func (e *Engine) resolveIncludes(content string, tc *TransformContext, depth int, seen map[string]bool) string {
	if depth >= tc.MaxIncludeDepth {
		return content
	}

	expand := func(path string, required bool) string {
		path = strings.TrimSpace(path)
		if seen[path] {
			tc.Report.includeMissing(path)
			return errorMarker("include cycle detected: " + path)
		}
		data, ok := e.readTemplateFile(tc, path)
		if !ok {
			tc.Report.includeMissing(path)
			if required {
				return errorMarker("required include not found: " + path)
			}
			return ""
		}
		tc.Report.includeResolved(path)

		seen[path] = true
		out := e.resolveIncludes(string(data), tc, depth+1, seen)
		delete(seen, path)
		return out
	}

	content = includeRe.ReplaceAllStringFunc(content, func(m string) string {
		return expand(includeRe.FindStringSubmatch(m)[1], true)
	})
	content = includeOptionalRe.ReplaceAllStringFunc(content, func(m string) string {
		return expand(includeOptionalRe.FindStringSubmatch(m)[1], false)
	})
	return content
}

// stepSections resolves {{include-section:PATH#NAME}} markers.
func (e *Engine) stepSections(content string, tc *TransformContext) (string, error) {
	return includeSectionRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := includeSectionRe.FindStringSubmatch(m)
		path, name := strings.TrimSpace(sub[1]), strings.TrimSpace(sub[2])

		data, ok := e.readTemplateFile(tc, path)
		if !ok {
			tc.Report.includeMissing(path)
			return errorMarker("section source not found: " + path)
		}
		section, ok := extractSection(string(data), name)
		if !ok {
			tc.Report.includeMissing(path + "#" + name)
			return errorMarker(fmt.Sprintf("section %q not found in %s", name, path))
		}
		tc.Report.sectionExtracted(path + "#" + name)
		return section
	}), nil
}

func extractSection(content, name string) (string, bool) {
	openTag := fmt.Sprintf("<!-- SECTION: %s -->", name)
	closeTag := fmt.Sprintf("<!-- /SECTION: %s -->", name)
	start := strings.Index(content, openTag)
	if start < 0 {
		return "", false
	}
	rest := content[start+len(openTag):]
	end := strings.Index(rest, closeTag)
	if end < 0 {
		return "", false
	}
	return strings.Trim(rest[:end], "\n"), true
}

// stepConditionals resolves if/else blocks and include-if markers. A
// syntactically invalid expression keeps the original marker; unknown
// expression functions abort the render.
func (e *Engine) stepConditionals(content string, tc *TransformContext) (string, error) {
	var evalErr error

	content = ifBlockRe.ReplaceAllStringFunc(content, func(m string) string {
		if evalErr != nil {
			return m
		}
		sub := ifBlockRe.FindStringSubmatch(m)
		expr, body := strings.TrimSpace(sub[1]), sub[2]

		truth, err := evalExpr(tc, expr)
		if err != nil {
			if core.HasCode(err, core.CodeInvalidExpression) {
				return m
			}
			evalErr = err
			return m
		}
		tc.Report.conditionalEvaluated(expr)

		thenPart, elsePart := body, ""
		if idx := strings.Index(body, "{{else}}"); idx >= 0 {
			thenPart, elsePart = body[:idx], body[idx+len("{{else}}"):]
		}
		if truth {
			return thenPart
		}
		return elsePart
	})
	if evalErr != nil {
		return "", evalErr
	}

	content = includeIfRe.ReplaceAllStringFunc(content, func(m string) string {
		if evalErr != nil {
			return m
		}
		sub := includeIfRe.FindStringSubmatch(m)
		expr, path := strings.TrimSpace(sub[1]), strings.TrimSpace(sub[2])

		truth, err := evalExpr(tc, expr)
		if err != nil {
			if core.HasCode(err, core.CodeInvalidExpression) {
				return m
			}
			evalErr = err
			return m
		}
		tc.Report.conditionalEvaluated(expr)
		if !truth {
			return ""
		}
		data, ok := e.readTemplateFile(tc, path)
		if !ok {
			tc.Report.includeMissing(path)
			return errorMarker("required include not found: " + path)
		}
		tc.Report.includeResolved(path)
		return string(data)
	})
	return content, evalErr
}

// stepLoops expands {{#each collection}} blocks over context lists.
func (e *Engine) stepLoops(content string, tc *TransformContext) (string, error) {
	return eachBlockRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := eachBlockRe.FindStringSubmatch(m)
		name, body := sub[1], sub[2]

		v, ok := tc.Var(name)
		if !ok {
			tc.Report.variableMissing(name)
			return m
		}
		list, ok := v.([]any)
		if !ok {
			tc.Report.variableMissing(name)
			return m
		}
		tc.Report.variableResolved(name)

		var out strings.Builder
		for i, item := range list {
			iter := body
			iter = thisFieldRe.ReplaceAllStringFunc(iter, func(fm string) string {
				field := thisFieldRe.FindStringSubmatch(fm)[1]
				if node, ok := item.(map[string]any); ok {
					if fv, ok := lookupField(node, field); ok {
						return stringify(fv)
					}
				}
				return fm
			})
			iter = strings.ReplaceAll(iter, "{{this}}", stringify(item))
			iter = strings.ReplaceAll(iter, "{{@index}}", fmt.Sprintf("%d", i))
			out.WriteString(iter)
		}
		return out.String()
	}), nil
}

func lookupField(node map[string]any, dotted string) (any, bool) {
	var cur any = node
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// stepConfigVars resolves {{config.dotted.path}} against the merged
// configuration; a missing key records the variable and keeps the
// marker for the validation step.
func (e *Engine) stepConfigVars(content string, tc *TransformContext) (string, error) {
	return configVarRe.ReplaceAllStringFunc(content, func(m string) string {
		key := configVarRe.FindStringSubmatch(m)[1]
		s, ok := tc.Config.LookupString(key)
		if !ok {
			tc.Report.variableMissing("config." + key)
			return m
		}
		tc.Report.variableResolved("config." + key)
		return s
	}), nil
}

// stepContextVars resolves the closed context variable set.
func (e *Engine) stepContextVars(content string, tc *TransformContext) (string, error) {
	vars := map[string]string{
		"source_layers": strings.Join(tc.SourceLayers, ", "),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"version":       tc.Version,
		"template":      tc.TemplateName,
	}
	for name, value := range vars {
		marker := "{{" + name + "}}"
		if strings.Contains(content, marker) {
			content = strings.ReplaceAll(content, marker, value)
			tc.Report.variableResolved(name)
		}
	}
	return content, nil
}

// stepPathVars resolves {{PROJECT_EDISON_DIR}}.
func (e *Engine) stepPathVars(content string, tc *TransformContext) (string, error) {
	marker := "{{PROJECT_EDISON_DIR}}"
	if strings.Contains(content, marker) {
		dir := filepath.Join(tc.ProjectRoot, tc.ConfigDirName)
		content = strings.ReplaceAll(content, marker, dir)
		tc.Report.variableResolved("PROJECT_EDISON_DIR")
	}
	return content, nil
}

// stepFunctions resolves {{function:name(args)}} and {{fn:name a b}}
// call sites against the registry. Unknown names abort the render.
func (e *Engine) stepFunctions(content string, tc *TransformContext) (string, error) {
	var callErr error

	call := func(marker, name string, tokens []string) string {
		if callErr != nil {
			return marker
		}
		f, ok := e.registry.Get(name)
		if !ok {
			callErr = core.ErrTemplate(core.CodeUnknownFunction, "unknown template function "+name).
				WithRemediation("register it in functions/manifest.yml")
			return marker
		}
		out, err := f.Call(tc, parseArgs(tc, tokens))
		if err != nil {
			callErr = core.ErrTemplate(core.CodeUnknownFunction,
				fmt.Sprintf("function %s failed", name)).WithCause(err)
			return marker
		}
		tc.Report.functionCalled(name)
		return out
	}

	content = functionCallRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := functionCallRe.FindStringSubmatch(m)
		return call(m, sub[1], splitCallArgs(sub[2]))
	})
	if callErr != nil {
		return "", callErr
	}
	content = fnCallRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := fnCallRe.FindStringSubmatch(m)
		return call(m, sub[1], strings.Fields(sub[2]))
	})
	return content, callErr
}

// stepReferences renders pointer lines without embedding content.
func (e *Engine) stepReferences(content string, tc *TransformContext) (string, error) {
	return referenceRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := referenceRe.FindStringSubmatch(m)
		path, name, purpose := strings.TrimSpace(sub[1]), strings.TrimSpace(sub[2]), strings.TrimSpace(sub[3])
		return fmt.Sprintf("- %s#%s: %s", path, name, purpose)
	}), nil
}

// stepValidate records leftover markers and strips section comments.
// Running it twice yields identical output.
func (e *Engine) stepValidate(content string, tc *TransformContext) string {
	for _, m := range anyMarkerRe.FindAllString(content, -1) {
		tc.Report.unresolved(m)
	}
	return sectionMarkerRe.ReplaceAllString(content, "")
}

// readTemplateFile resolves a template-relative path against the source
// directory first, then the project root.
func (e *Engine) readTemplateFile(tc *TransformContext, rel string) ([]byte, bool) {
	for _, base := range []string{tc.SourceDir, tc.ProjectRoot} {
		if base == "" {
			continue
		}
		if data, err := os.ReadFile(filepath.Join(base, rel)); err == nil {
			return data, true
		}
	}
	return nil, false
}

func errorMarker(message string) string {
	return "<!-- ERROR: " + message + " -->"
}
