package compiler

import (
	"fmt"

	"github.com/artpar/marathoner/internal/core/topology"
)

// link is a validated connects-to relationship.
type link struct {
	target     string // id as declared on the target node
	capability string
}

// resolveRelationships validates the connects-to relationships of a node,
// in declaration order. The target node must exist in the topology and the
// targeted capability must be one of its endpoints; the target does not have
// to be compiled yet.
func resolveRelationships(topo *topology.Topology, node *topology.Node) ([]link, error) {
	var result []link
	for _, r := range node.Relationships {
		if r.Kind() != topology.RelationshipConnectsTo {
			continue
		}

		field := fmt.Sprintf("relationships.%s", r.ID)

		target, ok := topo.Node(r.Target)
		if !ok {
			return nil, newValidationError(node.ID, field+".target",
				fmt.Sprintf("target node %q does not exist", r.Target), nil)
		}
		if r.TargetedCapability == "" {
			return nil, newValidationError(node.ID, field+".capability",
				"targeted capability is required", nil)
		}
		capability, ok := target.Capability(r.TargetedCapability)
		if !ok {
			return nil, newValidationError(node.ID, field+".capability",
				fmt.Sprintf("node %s has no capability %q", target.ID, r.TargetedCapability), nil)
		}
		if capability.Kind() != topology.CapabilityEndpoint {
			return nil, newValidationError(node.ID, field+".capability",
				fmt.Sprintf("capability %q of node %s is not an endpoint", r.TargetedCapability, target.ID), nil)
		}

		result = append(result, link{target: target.ID, capability: r.TargetedCapability})
	}
	return result, nil
}
