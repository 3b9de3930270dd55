package compiler

import (
	"errors"
	"strings"

	"github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/topology"
)

// Compiler compiles topologies against a shared port allocator. It is safe
// for concurrent use as long as the allocator is.
type Compiler struct {
	allocator *ports.Allocator
	config    Config
}

// New creates a compiler. Unset config fields take their defaults.
func New(allocator *ports.Allocator, cfg Config) *Compiler {
	if allocator == nil {
		allocator = ports.New(ports.DefaultBase)
	}
	return &Compiler{
		allocator: allocator,
		config:    cfg.withDefaults(),
	}
}

// Config returns the effective configuration.
func (c *Compiler) Config() Config {
	return c.config
}

// Allocator returns the shared port allocator.
func (c *Compiler) Allocator() *ports.Allocator {
	return c.allocator
}

// CompileGroup compiles every non-native node of the topology, in topology
// order, into a group whose id is the lower cased deployment id.
//
// With AbortOnError the first failure is returned and no group is produced.
// With SkipOnError the group holds the apps that compiled and the failures
// come back as a *GroupError.
func (c *Compiler) CompileGroup(deploymentID string, topo *topology.Topology) (*marathon.Group, error) {
	if strings.TrimSpace(deploymentID) == "" {
		return nil, newValidationError("", "deployment_id", "deployment id is required", nil)
	}
	if topo == nil {
		return nil, newValidationError("", "topology", "topology is required", nil)
	}

	group := marathon.NewGroup(strings.ToLower(deploymentID))
	var failures []*CompileError

	for _, node := range topo.NonNatives() {
		app, err := c.CompileApp(topo, node)
		if err != nil {
			var ce *CompileError
			if c.config.OnNodeError != SkipOnError || !errors.As(err, &ce) {
				return nil, err
			}
			failures = append(failures, ce)
			continue
		}
		group.Apps = append(group.Apps, app)
	}

	if len(failures) > 0 {
		return group, &GroupError{Failures: failures}
	}
	return group, nil
}
