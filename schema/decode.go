package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// newConfig returns an empty config for t.
func newConfig(t NodeType) (NodeConfig, error) {
	switch t {
	case NodeInput:
		return &InputConfig{}, nil
	case NodeOutput:
		return &OutputConfig{}, nil
	case NodeTransform:
		return &TransformConfig{}, nil
	case NodeCondition:
		return &ConditionConfig{}, nil
	case NodeLoop:
		return &LoopConfig{}, nil
	case NodeParallel:
		return &ParallelConfig{}, nil
	case NodeMerge:
		return &MergeConfig{}, nil
	}
	return nil, fmt.Errorf("unknown node_type %q", t)
}

// UnmarshalJSON decodes the config shape selected by node_type and rejects
// fields that belong to any other shape.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"node_id"`
		Type      NodeType        `json:"node_type"`
		Name      string          `json:"name"`
		DependsOn []string        `json:"depends_on"`
		Config    json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cfg, err := newConfig(raw.Type)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	body := bytes.TrimSpace(raw.Config)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("node %q: %s config: %w", raw.ID, raw.Type, err)
	}

	*n = Node{
		ID:        raw.ID,
		Type:      raw.Type,
		Name:      raw.Name,
		DependsOn: raw.DependsOn,
		Config:    cfg,
	}
	return nil
}

// Parse decodes a JSON schema document.
func Parse(data []byte) (*PipelineSchema, error) {
	var s PipelineSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &s, nil
}

// Transform returns the node's transform config, or nil.
func (n *Node) Transform() *TransformConfig {
	c, _ := n.Config.(*TransformConfig)
	return c
}

// Loop returns the node's loop config, or nil.
func (n *Node) Loop() *LoopConfig {
	c, _ := n.Config.(*LoopConfig)
	return c
}

// Parallel returns the node's parallel config, or nil.
func (n *Node) Parallel() *ParallelConfig {
	c, _ := n.Config.(*ParallelConfig)
	return c
}

// Condition returns the node's condition config, or nil.
func (n *Node) Condition() *ConditionConfig {
	c, _ := n.Config.(*ConditionConfig)
	return c
}
