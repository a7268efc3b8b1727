package core

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// String renders the message as YAML with fields in declaration order. The
// output parses back with ParseMessage. Floating point metadata keeps its
// type: whole numbers are tagged !!float so they do not come back as int.
func (m Message) String() string {
	md := m.Metadata
	m.Metadata = nil

	var doc yaml.Node
	if err := doc.Encode(m); err != nil {
		return fmt.Sprintf("<unrenderable message %s: %v>", m.ID, err)
	}
	if len(md) > 0 {
		value, err := valueNode(md)
		if err != nil {
			return fmt.Sprintf("<unrenderable message %s: %v>", m.ID, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "metadata"}, value)
	}
	return Dump(&doc)
}

// valueNode encodes a metadata value, descending into generic maps and slices.
func valueNode(v any) (*yaml.Node, error) {
	switch v := v.(type) {
	case float64:
		return floatNode(v), nil
	case float32:
		return floatNode(float64(v)), nil
	case map[string]any:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range slices.Sorted(maps.Keys(v)) {
			child, err := valueNode(v[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, child)
		}
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			child, err := valueNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, child)
		}
		return n, nil
	default:
		var n yaml.Node
		if err := n.Encode(v); err != nil {
			return nil, err
		}
		return &n, nil
	}
}

func floatNode(f float64) *yaml.Node {
	var value string
	switch {
	case math.IsNaN(f):
		value = ".nan"
	case math.IsInf(f, 1):
		value = ".inf"
	case math.IsInf(f, -1):
		value = "-.inf"
	default:
		value = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: value}
}

// ParseMessage parses the textual form produced by Message.String.
func ParseMessage(text string) (Message, error) {
	var m Message
	if err := yaml.Unmarshal([]byte(text), &m); err != nil {
		return Message{}, fmt.Errorf("failed to parse message: %w", err)
	}
	return m, nil
}

// Dump renders any record (message, agent or network descriptor) as YAML
// preserving struct field order.
func Dump(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unrenderable %T: %v>", v, err)
	}
	return string(out)
}

// Descriptor is the textual identity of an agent: who it is and which kinds
// it accepts.
type Descriptor struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Receivable  []Kind         `yaml:"receivable"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
}

// Describe builds a Descriptor for a. Name, description and metadata are
// taken from optional Name(), Description() and Metadata() methods.
func Describe(a Agent) Descriptor {
	d := Descriptor{ID: a.ID(), Receivable: a.Receivable()}
	if n, ok := a.(interface{ Name() string }); ok {
		d.Name = n.Name()
	}
	if n, ok := a.(interface{ Description() string }); ok {
		d.Description = n.Description()
	}
	if n, ok := a.(interface{ Metadata() map[string]any }); ok {
		d.Metadata = n.Metadata()
	}
	return d
}

// ParseDescriptor parses the textual form of a Descriptor.
func ParseDescriptor(text string) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal([]byte(text), &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse agent descriptor: %w", err)
	}
	return d, nil
}
