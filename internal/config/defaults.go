package config

// Defaults returns the bundled default configuration layer. Everything
// here can be overridden by the user, pack and project layers; the
// transition tables in particular are data, not code, so projects can
// reshape the lifecycle (including cycles such as qa wip -> todo).
func Defaults() map[string]any {
	return map[string]any{
		"paths": map[string]any{
			"project_config_dir": DefaultConfigDirName,
			"management_dir":     DefaultManagementDirName,
			"evidence_subdir":    "evidence",
		},
		"packs": map[string]any{
			"active": []any{},
		},
		"tasks": map[string]any{
			"subdir":        "tasks",
			"initial_state": "todo",
			"states":        []any{"todo", "wip", "done", "validated", "blocked"},
			"transitions": map[string]any{
				"todo":      []any{"wip", "blocked"},
				"wip":       []any{"done", "todo", "blocked"},
				"done":      []any{"validated", "wip"},
				"blocked":   []any{"todo", "wip"},
				"validated": []any{},
			},
			"template": "templates/task.md",
		},
		"qa": map[string]any{
			"subdir":        "qa",
			"initial_state": "waiting",
			"states":        []any{"waiting", "todo", "wip", "done", "validated"},
			"transitions": map[string]any{
				"waiting":   []any{"todo"},
				"todo":      []any{"wip"},
				"wip":       []any{"done", "todo"},
				"done":      []any{"validated", "wip"},
				"validated": []any{},
			},
			"template": "templates/qa.md",
		},
		"session": map[string]any{
			"subdir":            "sessions",
			"initial_state":     "wip",
			"states":            []any{"wip", "done", "validated"},
			"transitions": map[string]any{
				"wip":       []any{"done"},
				"done":      []any{"validated", "wip"},
				"validated": []any{},
			},
			"branch_prefix":     "session/",
			"base_branch_mode":  "current",
			"base_branch":       "main",
			"fetch":             "on_failure",
			"install_deps":      false,
			"shared_state_mode": "meta",
			"meta_branch":       "edison-meta",
			"shared_paths":      []any{".project"},
			"recognized_agents": []any{"claude", "codex", "gemini", "cursor", "auggie"},
			"stale_after":       "2h",
		},
		"git": map[string]any{
			"timeout": "30s",
		},
		"validation": map[string]any{
			"parallelism":      4,
			"parallel_enabled": true,
			"waves":            []any{},
			"validators":       []any{},
			"engines":          map[string]any{},
		},
		"composition": map[string]any{
			"max_include_depth": 10,
			"version":           "1",
		},
	}
}

// replaceKeys lists dotted config keys whose list values replace the
// lower layer instead of append-and-dedupe.
var replaceKeys = map[string]bool{
	"validation.waves":     true,
	"session.shared_paths": true,
}
