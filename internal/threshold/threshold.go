package threshold

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Resolver resolves named threshold parameters from a two-tier configuration:
// global defaults overridden key-by-key per playbook id.
type Resolver struct {
	Global    map[string]any
	Playbooks map[string]map[string]any
}

type thresholdsFile struct {
	Global    map[string]any            `yaml:"global_thresholds"`
	Playbooks map[string]map[string]any `yaml:",inline"`
}

var placeholderRe = regexp.MustCompile(`\$\{thresholds\.([A-Za-z0-9_.-]+)\}`)

// Load reads a thresholds YAML file. The top-level global_thresholds map holds
// defaults; every other top-level key is a per-playbook override map.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses threshold configuration from raw YAML bytes.
func FromYAML(data []byte) (*Resolver, error) {
	var f thresholdsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid thresholds yaml: %w", err)
	}
	r := &Resolver{Global: f.Global, Playbooks: f.Playbooks}
	if r.Global == nil {
		r.Global = map[string]any{}
	}
	if r.Playbooks == nil {
		r.Playbooks = map[string]map[string]any{}
	}
	return r, nil
}

// Resolve looks up a key: playbook-specific value first, then global.
func (r *Resolver) Resolve(key, playbookID string) (any, bool) {
	if overrides, ok := r.Playbooks[playbookID]; ok {
		if v, ok := overrides[key]; ok {
			return v, true
		}
	}
	v, ok := r.Global[key]
	return v, ok
}

// Substitute replaces every ${thresholds.KEY} occurrence in expr with the
// resolved value's string form. Unresolved placeholders are left intact so an
// unconfigured threshold fails evaluation downstream instead of silently
// defaulting.
func (r *Resolver) Substitute(expr, playbookID string) string {
	return placeholderRe.ReplaceAllStringFunc(expr, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := r.Resolve(key, playbookID)
		if !ok {
			return m
		}
		return stringify(v)
	})
}

// ResolveAll returns the full merged threshold set for a playbook, for audit
// and run-metadata purposes.
func (r *Resolver) ResolveAll(playbookID string) map[string]any {
	merged := make(map[string]any, len(r.Global))
	for k, v := range r.Global {
		merged[k] = v
	}
	for k, v := range r.Playbooks[playbookID] {
		merged[k] = v
	}
	return merged
}

func stringify(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}
