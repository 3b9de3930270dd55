package topology

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a parsed topology document.
type Document struct {
	DeploymentID string
	Topology     *Topology
}

// functionNames are the mapping keys that turn a property into a reference
// expression instead of a plain map.
var functionNames = map[string]bool{
	"get_input":            true,
	"get_property":         true,
	"get_attribute":        true,
	"get_operation_output": true,
	"concat":               true,
}

// =============================================================================
// Document Schema
// =============================================================================

type documentYAML struct {
	DeploymentID string     `yaml:"deployment_id"`
	Nodes        []nodeYAML `yaml:"nodes"`
}

type nodeYAML struct {
	ID            string                              `yaml:"id"`
	Type          string                              `yaml:"type"`
	Native        bool                                `yaml:"native"`
	Properties    map[string]yaml.Node                `yaml:"properties"`
	Capabilities  []capabilityYAML                    `yaml:"capabilities"`
	Relationships []relationshipYAML                  `yaml:"relationships"`
	Interfaces    map[string]map[string]operationYAML `yaml:"interfaces"`
}

type capabilityYAML struct {
	Name       string               `yaml:"name"`
	Type       string               `yaml:"type"`
	Properties map[string]yaml.Node `yaml:"properties"`
}

type relationshipYAML struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	Target     string `yaml:"target"`
	Capability string `yaml:"capability"`
}

type operationYAML struct {
	Implementation string `yaml:"implementation"`
	ArtifactType   string `yaml:"artifact_type"`
}

// UnmarshalYAML accepts both the long form and a bare implementation string:
//
//	create: registry/web:1.0.dockerimg
func (o *operationYAML) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		o.Implementation = value.Value
		return nil
	}
	type plain operationYAML
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*o = operationYAML(p)
	return nil
}

// =============================================================================
// Parser Functions
// =============================================================================

// ParseTopology parses a YAML or JSON topology document.
// This is a pure function - no I/O, no side effects.
func ParseTopology(content []byte) (*Document, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyInput
	}

	var doc documentYAML
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	if len(doc.Nodes) == 0 {
		return nil, ErrNoNodes
	}

	topo := &Topology{Nodes: make([]Node, 0, len(doc.Nodes))}
	seen := make(map[string]int, len(doc.Nodes))

	for i, n := range doc.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		node, err := convertNode(field, n)
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(node.ID)
		if prev, dup := seen[key]; dup {
			return nil, NewParseError(field+".id",
				fmt.Sprintf("node %q collides with nodes[%d]", node.ID, prev), ErrDuplicateNode)
		}
		seen[key] = i

		topo.Nodes = append(topo.Nodes, node)
	}

	return &Document{DeploymentID: doc.DeploymentID, Topology: topo}, nil
}

func convertNode(field string, n nodeYAML) (Node, error) {
	if strings.TrimSpace(n.ID) == "" {
		return Node{}, NewParseError(field+".id", "node id is required", ErrInvalidNode)
	}

	props, err := convertProperties(field+".properties", n.Properties)
	if err != nil {
		return Node{}, err
	}

	node := Node{
		ID:         n.ID,
		Type:       n.Type,
		Native:     n.Native,
		Properties: props,
		Interfaces: make(map[string]Interface, len(n.Interfaces)),
	}

	names := make(map[string]bool, len(n.Capabilities))
	for i, c := range n.Capabilities {
		cfield := fmt.Sprintf("%s.capabilities[%d]", field, i)
		if c.Name == "" {
			return Node{}, NewParseError(cfield+".name", "capability name is required", ErrInvalidNode)
		}
		if names[c.Name] {
			return Node{}, NewParseError(cfield+".name",
				fmt.Sprintf("capability %q declared twice", c.Name), ErrDuplicateElement)
		}
		names[c.Name] = true

		cprops, err := convertProperties(cfield+".properties", c.Properties)
		if err != nil {
			return Node{}, err
		}
		node.Capabilities = append(node.Capabilities, Capability{
			Name:       c.Name,
			Type:       c.Type,
			Properties: cprops,
		})
	}

	for i, r := range n.Relationships {
		rfield := fmt.Sprintf("%s.relationships[%d]", field, i)
		if r.Target == "" {
			return Node{}, NewParseError(rfield+".target", "relationship target is required", ErrInvalidNode)
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s_%s_%d", n.ID, r.Target, i)
		}
		node.Relationships = append(node.Relationships, Relationship{
			ID:                 id,
			Type:               r.Type,
			Target:             r.Target,
			TargetedCapability: r.Capability,
		})
	}

	for ifaceName, ops := range n.Interfaces {
		iface := Interface{Operations: make(map[string]Operation, len(ops))}
		for opName, op := range ops {
			operation := Operation{}
			if op.Implementation != "" {
				operation.Artifact = &Artifact{Ref: op.Implementation, Type: op.ArtifactType}
			}
			iface.Operations[opName] = operation
		}
		node.Interfaces[ifaceName] = iface
	}

	return node, nil
}

func convertProperties(field string, raw map[string]yaml.Node) (Properties, error) {
	props := make(Properties, len(raw))
	for name, n := range raw {
		n := n
		if isNull(&n) {
			continue
		}
		v, err := convertValue(&n)
		if err != nil {
			return nil, NewParseError(field+"."+name, err.Error(), ErrInvalidProperty)
		}
		props[name] = v
	}
	return props, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// convertValue turns a YAML node into a typed PropertyValue.
func convertValue(n *yaml.Node) (PropertyValue, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return convertValue(n.Alias)

	case yaml.ScalarNode:
		return Scalar(n.Value), nil

	case yaml.SequenceNode:
		items := make([]PropertyValue, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := convertValue(c)
			if err != nil {
				return PropertyValue{}, err
			}
			items = append(items, v)
		}
		return List(items...), nil

	case yaml.MappingNode:
		if len(n.Content) == 2 && functionNames[n.Content[0].Value] {
			return convertFunction(n.Content[0].Value, n.Content[1])
		}
		m := make(map[string]PropertyValue, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := convertValue(n.Content[i+1])
			if err != nil {
				return PropertyValue{}, err
			}
			m[n.Content[i].Value] = v
		}
		return PropertyValue{Kind: KindMap, Map: m}, nil

	default:
		return PropertyValue{}, fmt.Errorf("unsupported YAML node kind %d", n.Kind)
	}
}

func convertFunction(name string, args *yaml.Node) (PropertyValue, error) {
	switch args.Kind {
	case yaml.ScalarNode:
		return Ref(name, args.Value), nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(args.Content))
		for _, c := range args.Content {
			if c.Kind != yaml.ScalarNode {
				return PropertyValue{}, fmt.Errorf("%s arguments must be scalars", name)
			}
			values = append(values, c.Value)
		}
		return Ref(name, values...), nil
	default:
		return PropertyValue{}, fmt.Errorf("%s arguments must be a scalar or a list", name)
	}
}
