package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCapability(t *testing.T) {
	tests := []struct {
		capabilityType string
		want           CapabilityKind
	}{
		{"tosca.capabilities.Endpoint", CapabilityEndpoint},
		{"tosca.capabilities.Endpoint.Database", CapabilityEndpoint},
		{"tosca.capabilities.Endpoint.Admin", CapabilityEndpoint},
		{"alien.capabilities.endpoint.Docker", CapabilityEndpoint},
		{"TOSCA.CAPABILITIES.ENDPOINT", CapabilityEndpoint},
		{"tosca.capabilities.Container", CapabilityOther},
		{"tosca.capabilities.Node", CapabilityOther},
		{"tosca.capabilities.Attachment", CapabilityOther},
		{"endpoint", CapabilityOther},
		{"", CapabilityOther},
	}

	for _, tt := range tests {
		t.Run(tt.capabilityType, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCapability(tt.capabilityType))
		})
	}
}

func TestClassifyRelationship(t *testing.T) {
	tests := []struct {
		relationshipType string
		want             RelationshipKind
	}{
		{"tosca.relationships.ConnectsTo", RelationshipConnectsTo},
		{"tosca.relationships.connectsto", RelationshipConnectsTo},
		{"TOSCA.RELATIONSHIPS.CONNECTSTO", RelationshipConnectsTo},
		{"tosca.relationships.HostedOn", RelationshipOther},
		{"tosca.relationships.DependsOn", RelationshipOther},
		{"tosca.relationships.ConnectsTo.Database", RelationshipOther},
		{"alien.relationships.ConnectsTo", RelationshipOther},
		{"", RelationshipOther},
	}

	for _, tt := range tests {
		t.Run(tt.relationshipType, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRelationship(tt.relationshipType))
		})
	}
}

func TestKinds_String(t *testing.T) {
	assert.Equal(t, "endpoint", CapabilityEndpoint.String())
	assert.Equal(t, "other", CapabilityOther.String())
	assert.Equal(t, "connects_to", RelationshipConnectsTo.String())
	assert.Equal(t, "other", RelationshipOther.String())
}
