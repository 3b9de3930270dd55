package topology

import "strings"

// CapabilityKind is the closed classification of capability types.
type CapabilityKind int

const (
	CapabilityOther CapabilityKind = iota
	CapabilityEndpoint
)

func (k CapabilityKind) String() string {
	if k == CapabilityEndpoint {
		return "endpoint"
	}
	return "other"
}

// RelationshipKind is the closed classification of relationship types.
type RelationshipKind int

const (
	RelationshipOther RelationshipKind = iota
	RelationshipConnectsTo
)

func (k RelationshipKind) String() string {
	if k == RelationshipConnectsTo {
		return "connects_to"
	}
	return "other"
}

const (
	endpointFamily = "capabilities.endpoint"
	connectsToType = "tosca.relationships.connectsto"
)

// ClassifyCapability maps a capability type onto a CapabilityKind.
// Any type containing "capabilities.endpoint", ignoring case, belongs to the
// endpoint family: "tosca.capabilities.Endpoint",
// "tosca.capabilities.Endpoint.Database" and
// "alien.capabilities.endpoint.Docker" all match.
func ClassifyCapability(capabilityType string) CapabilityKind {
	if strings.Contains(strings.ToLower(capabilityType), endpointFamily) {
		return CapabilityEndpoint
	}
	return CapabilityOther
}

// ClassifyRelationship maps a relationship type onto a RelationshipKind.
// Only an exact, case-insensitive "tosca.relationships.ConnectsTo" matches.
func ClassifyRelationship(relationshipType string) RelationshipKind {
	if strings.EqualFold(relationshipType, connectsToType) {
		return RelationshipConnectsTo
	}
	return RelationshipOther
}
