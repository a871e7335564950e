package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// EnvPrefix marks environment variables that override configuration.
// Nested keys use a double underscore: EDISON_session__fetch=always.
const EnvPrefix = "EDISON_"

// envAliases maps flat legacy variable names onto dotted config keys.
var envAliases = map[string]string{
	"project_management_dir": "paths.management_dir",
}

// bundledPacks holds configuration fragments compiled into the binary.
// Packs shipped this way are always available regardless of the user
// and project pack directories.
var bundledPacks = map[string]map[string]any{}

// RegisterBundledPack installs a compiled-in pack layer. Intended to be
// called from init functions of pack packages.
func RegisterBundledPack(name string, layer map[string]any) {
	bundledPacks[name] = layer
}

// Loader assembles the effective configuration from the layered
// sources: bundled defaults, user config, active packs, project config
// and environment overrides. Later layers win; list values append and
// dedupe unless the key is registered in replaceKeys.
type Loader struct {
	paths Paths
	log   *logging.Logger
}

// NewLoader creates a configuration loader for a resolved project.
func NewLoader(paths Paths, log *logging.Logger) *Loader {
	if log == nil {
		log = logging.NewNop()
	}
	return &Loader{paths: paths, log: log}
}

// Load merges every configuration layer and decodes the result.
func (l *Loader) Load() (*Config, error) {
	layers, err := l.collectLayers()
	if err != nil {
		return nil, err
	}

	merged, err := mergeLayers(layers)
	if err != nil {
		return nil, err
	}

	cfg, err := fromMerged(merged)
	if err != nil {
		return nil, err
	}

	l.log.Debug("configuration loaded",
		"layers", len(layers),
		"active_packs", cfg.Packs.Active)
	return cfg, nil
}

// collectLayers gathers the layer maps in precedence order, lowest
// first. The active pack list is discovered from a preliminary merge of
// the non-pack layers, then the pack layers slot in between the user
// and project layers.
func (l *Loader) collectLayers() ([]map[string]any, error) {
	userLayer, err := l.readOptionalYAML(filepath.Join(l.paths.UserConfigDir, "config.yml"))
	if err != nil {
		return nil, err
	}
	projectLayers, err := l.projectLayers()
	if err != nil {
		return nil, err
	}
	envLayer := envOverrides()

	preliminary := []map[string]any{Defaults(), userLayer}
	preliminary = append(preliminary, projectLayers...)
	preliminary = append(preliminary, envLayer)
	pre, err := mergeLayers(preliminary)
	if err != nil {
		return nil, err
	}
	active := activePacks(pre)

	layers := []map[string]any{Defaults(), userLayer}
	for _, pack := range active {
		packLayers, err := l.packLayers(pack)
		if err != nil {
			return nil, err
		}
		layers = append(layers, packLayers...)
	}
	layers = append(layers, projectLayers...)
	layers = append(layers, envLayer)
	return layers, nil
}

// projectLayers reads <config_dir>/config.yml followed by the
// per-domain <config_dir>/config/*.yml fragments in lexical order.
func (l *Loader) projectLayers() ([]map[string]any, error) {
	var layers []map[string]any

	main, err := l.readOptionalYAML(filepath.Join(l.paths.ConfigDir(), "config.yml"))
	if err != nil {
		return nil, err
	}
	layers = append(layers, main)

	fragDir := filepath.Join(l.paths.ConfigDir(), "config")
	entries, err := os.ReadDir(fragDir)
	if err != nil {
		if os.IsNotExist(err) {
			return layers, nil
		}
		return nil, core.ErrConfig(core.CodeInvalidYAML, "reading config fragment directory").WithCause(err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yml") || strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		frag, err := l.readOptionalYAML(filepath.Join(fragDir, name))
		if err != nil {
			return nil, err
		}
		layers = append(layers, frag)
	}
	return layers, nil
}

// packLayers resolves a single pack in bundled, user, project order so
// a project can patch a bundled pack locally.
func (l *Loader) packLayers(pack string) ([]map[string]any, error) {
	var layers []map[string]any
	found := false

	if bundled, ok := bundledPacks[pack]; ok {
		layers = append(layers, deepCopyMap(bundled))
		found = true
	}
	for _, dir := range []string{
		filepath.Join(l.paths.UserConfigDir, "packs", pack),
		filepath.Join(l.paths.ConfigDir(), "packs", pack),
	} {
		path := filepath.Join(dir, "config.yml")
		if !fileExists(path) {
			continue
		}
		layer, err := l.readOptionalYAML(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
		found = true
	}

	if !found {
		return nil, core.ErrConfig(core.CodeMissingKey,
			fmt.Sprintf("active pack %q not found in any pack location", pack)).
			WithRemediation("remove it from packs.active or install the pack")
	}
	return layers, nil
}

// readOptionalYAML parses a YAML file through viper; a missing file
// yields an empty layer, a malformed one fails the whole load.
func (l *Loader) readOptionalYAML(path string) (map[string]any, error) {
	if !fileExists(path) {
		return map[string]any{}, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, core.ErrConfig(core.CodeInvalidYAML, "parsing "+path).WithCause(err).
			WithRemediation("fix the YAML syntax in " + path)
	}
	return v.AllSettings(), nil
}

// envOverrides builds the highest-precedence layer from EDISON_*
// variables. Values are parsed as YAML scalars so EDISON_git__timeout=45s
// stays a string while EDISON_validation__parallelism=8 becomes an int.
func envOverrides() map[string]any {
	layer := map[string]any{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, EnvPrefix)
		dotted := strings.ReplaceAll(key, "__", ".")
		if alias, ok := envAliases[key]; ok {
			dotted = alias
		}

		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		setPath(layer, strings.Split(dotted, "."), parsed)
	}
	return layer
}

// mergeLayers deep-merges the layers lowest-first. Maps merge per key,
// scalars take the higher layer, lists append then dedupe; keys in
// replaceKeys take the topmost layer's list verbatim.
func mergeLayers(layers []map[string]any) (map[string]any, error) {
	merged := map[string]any{}
	for _, layer := range layers {
		src := deepCopyMap(layer)
		if err := mergo.Merge(&merged, src, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, core.ErrConfig(core.CodeInvalidYAML, "merging configuration layers").WithCause(err)
		}
	}

	dedupeLists(merged)

	for key := range replaceKeys {
		parts := strings.Split(key, ".")
		for i := len(layers) - 1; i >= 0; i-- {
			if v, ok := lookupPath(layers[i], key); ok {
				setPath(merged, parts, deepCopyValue(v))
				break
			}
		}
	}
	return merged, nil
}

func activePacks(merged map[string]any) []string {
	v, ok := lookupPath(merged, "packs.active")
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var packs []string
	seen := map[string]bool{}
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		packs = append(packs, s)
	}
	return packs
}

// dedupeLists walks the tree and drops repeated list entries, keeping
// first occurrence order. Entries compare by their YAML rendering so
// list-of-map values (validators, waves) dedupe structurally.
func dedupeLists(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, val := range node {
			node[k] = dedupeLists(val)
		}
		return node
	case []any:
		seen := map[string]bool{}
		out := make([]any, 0, len(node))
		for _, item := range node {
			item = dedupeLists(item)
			key := fingerprint(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
		return out
	default:
		return v
	}
}

func fingerprint(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func setPath(m map[string]any, parts []string, value any) {
	cur := m
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		return deepCopyMap(node)
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
