package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Config files are YAML on disk, but decoding runs through encoding/json
// so DisallowUnknownFields catches typos in chore declarations. readAsJSON
// bridges the two: a YAML file is parsed and re-marshaled as JSON; any
// other extension is assumed to be JSON already.
func readAsJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// stringifyKeys rewrites every map key to a string, recursively. YAML
// permits non-string keys, which json.Marshal refuses.
func stringifyKeys(doc any) any {
	switch node := doc.(type) {
	case map[string]any:
		for k, v := range node {
			node[k] = stringifyKeys(v)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case []any:
		for i, v := range node {
			node[i] = stringifyKeys(v)
		}
		return node
	}
	return doc
}
