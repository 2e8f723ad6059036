package mapping

import (
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/lsm/chameleon/internal/jsonpath"
)

// Paths is an ordered list of candidate source paths. In YAML it may be
// written as a single string or a sequence.
type Paths []string

// UnmarshalYAML accepts both `sourceKeys: userId` and `sourceKeys: [a, b]`.
func (p *Paths) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = Paths{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("line %d: sourceKeys must be a string or a list of strings", node.Line)
	}
}

// Rule maps the first defined source path onto a destination field.
type Rule struct {
	DestKey    string `yaml:"destKey"`
	SourceKeys Paths  `yaml:"sourceKeys"`
}

// Table is an ordered, read-only set of mapping rules.
type Table struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// Parse decodes and validates a YAML mapping table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(t.Rules) == 0 {
		return nil, fmt.Errorf("mapping %q has no rules", t.Name)
	}
	seen := make(map[string]bool, len(t.Rules))
	for i, r := range t.Rules {
		if r.DestKey == "" {
			return nil, fmt.Errorf("mapping %q: rule %d missing destKey", t.Name, i)
		}
		if len(r.SourceKeys) == 0 {
			return nil, fmt.Errorf("mapping %q: rule %q missing sourceKeys", t.Name, r.DestKey)
		}
		if seen[r.DestKey] {
			return nil, fmt.Errorf("mapping %q: duplicate destKey %q", t.Name, r.DestKey)
		}
		seen[r.DestKey] = true
	}
	return &t, nil
}

// Load reads a mapping table from fsys.
func Load(fsys fs.FS, path string) (*Table, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", path, err)
	}
	return t, nil
}

// Build applies the table to a decoded event. Destination keys whose source
// paths are all undefined are left out. Values are copied by reference
// without coercion.
func (t *Table) Build(input map[string]interface{}) Payload {
	out := make(Payload, len(t.Rules))
	for _, r := range t.Rules {
		if v, ok := jsonpath.First(input, r.SourceKeys...); ok {
			out[r.DestKey] = v
		}
	}
	return out
}

// Explain reports how each destination key would be resolved.
func (t *Table) Explain(input map[string]interface{}) map[string][]string {
	out := make(map[string][]string, len(t.Rules))
	for _, r := range t.Rules {
		out[r.DestKey] = jsonpath.Explain(input, r.SourceKeys...)
	}
	return out
}
