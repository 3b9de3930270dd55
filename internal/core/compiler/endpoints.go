package compiler

import (
	"errors"
	"fmt"

	"github.com/docker/go-connections/nat"

	"github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/topology"
)

// Capability properties read by the extractor.
const (
	PropPort              = "port"
	PropBridgePortMapping = "docker_bridge_port_mapping"
)

// endpoint is the validated port plan of one endpoint capability.
type endpoint struct {
	capability    string
	containerPort int // 0 lets the backend choose
	hostPort      int
	bridge        bool
}

// network returns the network mode this endpoint asks for.
func (e endpoint) network() string {
	if e.bridge {
		return marathon.NetworkBridge
	}
	return marathon.NetworkHost
}

// extractEndpoints validates the endpoint capabilities of a node, in
// declaration order. Nothing is allocated here.
func extractEndpoints(node *topology.Node) ([]endpoint, error) {
	var result []endpoint
	for _, c := range node.Capabilities {
		if c.Kind() != topology.CapabilityEndpoint {
			continue
		}

		ep := endpoint{capability: c.Name}

		if c.Properties.Has(PropPort) {
			port, err := portProperty(c.Properties, PropPort)
			if err != nil {
				return nil, newValidationError(node.ID, capabilityField(c.Name, PropPort),
					"port must be an integer between 0 and 65535", err)
			}
			ep.containerPort = port
		}

		if c.Properties.Has(PropBridgePortMapping) {
			port, err := portProperty(c.Properties, PropBridgePortMapping)
			if err != nil {
				return nil, newValidationError(node.ID, capabilityField(c.Name, PropBridgePortMapping),
					"bridge port mapping must be an integer between 0 and 65535", err)
			}
			ep.hostPort = port
			ep.bridge = true
		}

		result = append(result, ep)
	}
	return result, nil
}

// portProperty reads a port number. An empty scalar is rejected rather than
// read as 0.
func portProperty(props topology.Properties, name string) (int, error) {
	v, err := props.Get(name)
	if err != nil {
		return 0, err
	}
	text, err := v.Text()
	if err != nil {
		return 0, err
	}
	if text == "" {
		return 0, errors.New("empty value")
	}
	return nat.ParsePort(text)
}

func capabilityField(capability, property string) string {
	return fmt.Sprintf("capabilities.%s.%s", capability, property)
}
