package compiler

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/topology"
)

// Node properties read by the app compiler.
const (
	PropCPUShare = "cpu_share"
	PropMemShare = "mem_share"
)

var envUnsafe = regexp.MustCompile(`[^A-Z0-9]+`)

// CompileApp compiles one node into an app.
//
// Validation of resources, image, endpoints and relationships happens
// first. Only a node that passes all of it touches the allocator, so a
// failed compilation leaves no trace.
func (c *Compiler) CompileApp(topo *topology.Topology, node *topology.Node) (*marathon.App, error) {
	cpus, err := resourceProperty(node, PropCPUShare)
	if err != nil {
		return nil, err
	}
	mem, err := resourceProperty(node, PropMemShare)
	if err != nil {
		return nil, err
	}

	image, err := resolveImage(node)
	if err != nil {
		return nil, err
	}

	endpoints, err := extractEndpoints(node)
	if err != nil {
		return nil, err
	}

	links, err := resolveRelationships(topo, node)
	if err != nil {
		return nil, err
	}

	app := marathon.NewApp(strings.ToLower(node.ID))
	app.CPUs = cpus
	app.Mem = mem
	docker := app.Docker()
	docker.Image = image

	c.applyEndpoints(app, topo, node, endpoints)
	c.applyLinks(app, links)

	return app, nil
}

func resourceProperty(node *topology.Node, name string) (float64, error) {
	v, err := node.Properties.Number(name)
	if errors.Is(err, topology.ErrPropertyNotFound) {
		return 0, newValidationError(node.ID, name, "required property is missing", nil)
	}
	if err != nil {
		return 0, newValidationError(node.ID, name, "property must be numeric", err)
	}
	// ParseFloat accepts NaN and Inf, which the manifest cannot encode.
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, newValidationError(node.ID, name, "property must be a positive number", nil)
	}
	return v, nil
}

// applyEndpoints allocates a service port per endpoint. The last endpoint
// decides the network mode of the whole app.
func (c *Compiler) applyEndpoints(app *marathon.App, topo *topology.Topology, node *topology.Node, endpoints []endpoint) {
	docker := app.Docker()
	label := false

	for _, ep := range endpoints {
		mapping := marathon.PortMapping{
			ContainerPort: ep.containerPort,
			ServicePort:   c.allocator.Allocate(ports.NewKey(node.ID, ep.capability)),
		}
		if ep.bridge {
			mapping.HostPort = ep.hostPort
			mapping.Protocol = marathon.ProtocolTCP
		}
		docker.PortMappings = append(docker.PortMappings, mapping)
		docker.Network = ep.network()

		switch c.config.HAProxyGroup {
		case LabelAlways:
			label = true
		case LabelWhenTargeted:
			if topo.IsTargeted(node.ID, ep.capability) {
				label = true
			}
		}
	}

	if label {
		app.Labels[HAProxyGroupLabel] = c.config.HAProxyGroupValue
	}
}

// applyLinks reserves the target port of every link and records the
// dependency on the target app.
func (c *Compiler) applyLinks(app *marathon.App, links []link) {
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		port, _ := c.allocator.Reserve(ports.NewKey(l.target, l.capability))

		dep := strings.ToLower(l.target)
		if !seen[dep] {
			seen[dep] = true
			app.Dependencies = append(app.Dependencies, dep)
		}

		if c.config.EndpointEnv {
			app.Env[EndpointEnvName(l.target, l.capability)] = strconv.Itoa(port)
		}
	}
}

// EndpointEnvName returns the variable that carries the service port of an
// endpoint: ("DbApp", "sql") becomes DBAPP_SQL_PORT.
func EndpointEnvName(nodeID, capability string) string {
	name := strings.ToUpper(nodeID) + "_" + strings.ToUpper(capability)
	name = strings.Trim(envUnsafe.ReplaceAllString(name, "_"), "_")
	return name + "_PORT"
}
