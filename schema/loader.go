package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Loader loads pipeline schemas by id.
type Loader interface {
	Load(id string) (*PipelineSchema, error)
}

// FileLoader loads schemas from YAML or JSON files on disk.
type FileLoader struct {
	dirs []string
}

// NewFileLoader creates a loader that searches dirs for schema files.
func NewFileLoader(dirs ...string) *FileLoader {
	return &FileLoader{dirs: dirs}
}

var extensions = []string{".yaml", ".yml", ".json"}

// Load searches for {id}.yaml, {id}.yml or {id}.json in each directory and
// one level of subdirectories. The first readable match wins.
func (l *FileLoader) Load(id string) (*PipelineSchema, error) {
	for _, dir := range l.dirs {
		for _, ext := range extensions {
			path := filepath.Join(dir, id+ext)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
			matches, _ := filepath.Glob(filepath.Join(dir, "*", id+ext))
			if len(matches) > 0 {
				return LoadFile(matches[0])
			}
		}
	}
	return nil, fmt.Errorf("schema: %q not found in %v", id, l.dirs)
}

// LoadFile reads a schema file. The format follows the file extension;
// anything other than .json is read as YAML.
func LoadFile(path string) (*PipelineSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("schema: parsing %s: %w", path, err)
		}
		return s, nil
	}
	s, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("schema: parsing %s: %w", path, err)
	}
	return s, nil
}

// ParseYAML decodes a YAML schema document. YAML is normalized to JSON
// first so both formats share one set of decoding rules.
func ParseYAML(data []byte) (*PipelineSchema, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	normalized, err := normalizeYAML(doc)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return v, nil
}

// MarshalYAML renders the schema through its JSON form.
func MarshalYAML(s *PipelineSchema) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
