// Package compose implements the layered template pipeline: includes,
// section extraction, conditionals, loops, variables, references and
// declarative custom functions, ending in a validation pass.
package compose

import (
	"strings"

	"github.com/leeroybrun/edison-sub004/internal/config"
)

// TransformContext carries everything a pipeline step may need. Steps
// are stateless; all bookkeeping goes through the Report.
type TransformContext struct {
	Config        *config.Config
	ActivePacks   []string
	ProjectRoot   string
	ConfigDirName string

	// SourceDir is where the template being rendered lives; includes
	// resolve against it first, then against ProjectRoot.
	SourceDir string

	SourceLayers []string
	TemplateName string
	Version      string

	// ContextVars feeds loops, context variables and function argument
	// references.
	ContextVars map[string]any

	MaxIncludeDepth int

	Report *Report
}

// Var resolves a dotted path against ContextVars.
func (tc *TransformContext) Var(dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = tc.ContextVars
	for _, part := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// HasPack reports whether a pack is active for this render.
func (tc *TransformContext) HasPack(name string) bool {
	for _, p := range tc.ActivePacks {
		if p == name {
			return true
		}
	}
	return false
}

// Report enumerates what the pipeline did to a template.
type Report struct {
	SourceLayers          []string
	IncludesResolved      []string
	IncludesMissing       []string
	SectionsExtracted     []string
	ConditionalsEvaluated []string
	VariablesResolved     []string
	VariablesMissing      []string
	FunctionsCalled       []string
	UnresolvedMarkers     []string
}

func (r *Report) includeResolved(path string)  { r.IncludesResolved = append(r.IncludesResolved, path) }
func (r *Report) includeMissing(path string)   { r.IncludesMissing = append(r.IncludesMissing, path) }
func (r *Report) sectionExtracted(name string) { r.SectionsExtracted = append(r.SectionsExtracted, name) }
func (r *Report) variableResolved(name string) { r.VariablesResolved = append(r.VariablesResolved, name) }
func (r *Report) variableMissing(name string)  { r.VariablesMissing = append(r.VariablesMissing, name) }
func (r *Report) conditionalEvaluated(expr string) {
	r.ConditionalsEvaluated = append(r.ConditionalsEvaluated, expr)
}
func (r *Report) functionCalled(name string) { r.FunctionsCalled = append(r.FunctionsCalled, name) }
func (r *Report) unresolved(marker string)   { r.UnresolvedMarkers = append(r.UnresolvedMarkers, marker) }
