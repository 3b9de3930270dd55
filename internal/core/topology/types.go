package topology

import "strings"

// =============================================================================
// Lifecycle Constants
// =============================================================================

const (
	// StandardInterface is the lifecycle interface holding the create operation.
	StandardInterface = "tosca.interfaces.node.lifecycle.Standard"
	// OperationCreate is the only lifecycle operation the compiler reads.
	OperationCreate = "create"
)

// =============================================================================
// Topology
// =============================================================================

// Topology is a directed graph of nodes connected by relationships.
// Node order is the declaration order of the source document.
type Topology struct {
	Nodes []Node `json:"nodes"`
}

// Node returns the node with the given id. Ids are compared case-insensitively.
func (t *Topology) Node(id string) (*Node, bool) {
	for i := range t.Nodes {
		if strings.EqualFold(t.Nodes[i].ID, id) {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}

// NonNatives returns the nodes that require an independent deployment.
// Native nodes stand for constructs provided by the platform itself.
func (t *Topology) NonNatives() []*Node {
	result := make([]*Node, 0, len(t.Nodes))
	for i := range t.Nodes {
		if !t.Nodes[i].Native {
			result = append(result, &t.Nodes[i])
		}
	}
	return result
}

// IsTargeted reports whether any connects-to relationship in the topology
// targets the given endpoint of the given node.
func (t *Topology) IsTargeted(nodeID, capability string) bool {
	for _, n := range t.Nodes {
		for _, r := range n.Relationships {
			if ClassifyRelationship(r.Type) != RelationshipConnectsTo {
				continue
			}
			if strings.EqualFold(r.Target, nodeID) && r.TargetedCapability == capability {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Node
// =============================================================================

// Node is one deployable unit of the topology.
type Node struct {
	ID            string               `json:"id"`
	Type          string               `json:"type,omitempty"`
	Native        bool                 `json:"native,omitempty"`
	Properties    Properties           `json:"properties,omitempty"`
	Capabilities  []Capability         `json:"capabilities,omitempty"`
	Relationships []Relationship       `json:"relationships,omitempty"`
	Interfaces    map[string]Interface `json:"interfaces,omitempty"`
}

// Capability returns the capability with the given name.
func (n *Node) Capability(name string) (*Capability, bool) {
	for i := range n.Capabilities {
		if n.Capabilities[i].Name == name {
			return &n.Capabilities[i], true
		}
	}
	return nil, false
}

// Operation returns an operation of a lifecycle interface.
func (n *Node) Operation(iface, name string) (*Operation, bool) {
	i, ok := n.Interfaces[iface]
	if !ok {
		return nil, false
	}
	op, ok := i.Operations[name]
	if !ok {
		return nil, false
	}
	return &op, true
}

// Capability is a named facet of a node. Endpoint capabilities describe
// something reachable over the network.
type Capability struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties,omitempty"`
}

// Kind classifies the capability type.
func (c Capability) Kind() CapabilityKind {
	return ClassifyCapability(c.Type)
}

// Relationship is an edge from its owning node to a capability of a target node.
type Relationship struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Target             string `json:"target"`
	TargetedCapability string `json:"capability"`
}

// Kind classifies the relationship type.
func (r Relationship) Kind() RelationshipKind {
	return ClassifyRelationship(r.Type)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Interface groups the lifecycle operations of a node.
type Interface struct {
	Operations map[string]Operation `json:"operations"`
}

// Operation is a lifecycle operation, optionally implemented by an artifact.
type Operation struct {
	Artifact *Artifact `json:"artifact,omitempty"`
}

// Artifact references the implementation of an operation.
type Artifact struct {
	Ref  string `json:"ref"`
	Type string `json:"type,omitempty"`
}
