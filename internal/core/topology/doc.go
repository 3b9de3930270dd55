// Package topology models the abstract application topology that the
// compiler consumes: nodes, their typed properties, capabilities,
// relationships and lifecycle operations.
//
// This package is part of the functional core. Values are immutable once
// parsed and nothing here performs I/O.
//
// # Classification
//
// Capability and relationship types are free-form strings in a topology
// document. The compiler only cares about two families, so they are mapped
// onto a closed set of kinds:
//
//	ClassifyCapability("tosca.capabilities.Endpoint")       // CapabilityEndpoint
//	ClassifyRelationship("tosca.relationships.ConnectsTo")  // RelationshipConnectsTo
//
// # Parsing
//
// ParseTopology reads a YAML (or JSON) topology document:
//
//	doc, err := topology.ParseTopology(data)
//	nodes := doc.Topology.NonNatives()
package topology
