package compiler

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/topology"
)

// =============================================================================
// Fixtures
// =============================================================================

const (
	endpointType   = "tosca.capabilities.Endpoint"
	connectsToType = "tosca.relationships.ConnectsTo"
)

func dockerNode(id, image string) topology.Node {
	return topology.Node{
		ID:   id,
		Type: "alien.nodes.Docker",
		Properties: topology.Properties{
			PropCPUShare: topology.Scalar("0.5"),
			PropMemShare: topology.Scalar("256"),
		},
		Interfaces: map[string]topology.Interface{
			topology.StandardInterface: {
				Operations: map[string]topology.Operation{
					topology.OperationCreate: {Artifact: &topology.Artifact{Ref: image + ImageArtifactSuffix}},
				},
			},
		},
	}
}

func endpointCap(name string, props map[string]string) topology.Capability {
	c := topology.Capability{Name: name, Type: endpointType, Properties: topology.Properties{}}
	for k, v := range props {
		c.Properties[k] = topology.Scalar(v)
	}
	return c
}

func connectsTo(target, capability string) topology.Relationship {
	return topology.Relationship{
		ID:                 "to_" + target + "_" + capability,
		Type:               connectsToType,
		Target:             target,
		TargetedCapability: capability,
	}
}

// webAndDB: WebApp exposes http on 8080 and connects to the sql endpoint
// of DbApp, which has no fixed port.
func webAndDB() *topology.Topology {
	web := dockerNode("WebApp", "registry/web:1.0")
	web.Capabilities = []topology.Capability{endpointCap("http", map[string]string{PropPort: "8080"})}
	web.Relationships = []topology.Relationship{connectsTo("DbApp", "sql")}

	db := dockerNode("DbApp", "library/postgres:15")
	db.Capabilities = []topology.Capability{endpointCap("sql", nil)}

	return &topology.Topology{Nodes: []topology.Node{web, db}}
}

func reversed(t *topology.Topology) *topology.Topology {
	nodes := make([]topology.Node, len(t.Nodes))
	for i, n := range t.Nodes {
		nodes[len(t.Nodes)-1-i] = n
	}
	return &topology.Topology{Nodes: nodes}
}

func newCompiler(cfg Config) *Compiler {
	return New(ports.New(ports.DefaultBase), cfg)
}

func mustApp(t *testing.T, g *marathon.Group, id string) *marathon.App {
	t.Helper()
	a, ok := g.App(id)
	require.True(t, ok, "app %s not in group", id)
	return a
}

// =============================================================================
// CompileGroup Tests
// =============================================================================

func TestCompileGroup_WebAndDB(t *testing.T) {
	c := newCompiler(DefaultConfig())

	group, err := c.CompileGroup("Shop-Prod", webAndDB())
	require.NoError(t, err)

	assert.Equal(t, "shop-prod", group.ID)
	assert.Empty(t, group.Dependencies)
	require.Len(t, group.Apps, 2)

	web := mustApp(t, group, "webapp")
	assert.Equal(t, []string{"dbapp"}, web.Dependencies)
	assert.Equal(t, 1, web.Instances)
	assert.Equal(t, 0.5, web.CPUs)
	assert.Equal(t, 256.0, web.Mem)
	assert.Equal(t, marathon.ContainerDocker, web.Container.Type)
	assert.Equal(t, "registry/web:1.0", web.Docker().Image)
	require.Len(t, web.Docker().PortMappings, 1)
	assert.Equal(t, 8080, web.Docker().PortMappings[0].ContainerPort)

	db := mustApp(t, group, "dbapp")
	assert.Empty(t, db.Dependencies)
	require.Len(t, db.Docker().PortMappings, 1)
	assert.Equal(t, 0, db.Docker().PortMappings[0].ContainerPort)

	reserved, ok := c.Allocator().Lookup(ports.NewKey("DbApp", "sql"))
	require.True(t, ok)
	assert.Equal(t, reserved, db.Docker().PortMappings[0].ServicePort)
}

func TestCompileGroup_DbFirstGetsBasePort(t *testing.T) {
	c := newCompiler(DefaultConfig())

	group, err := c.CompileGroup("shop", reversed(webAndDB()))
	require.NoError(t, err)

	db := mustApp(t, group, "dbapp")
	assert.Equal(t, ports.DefaultBase, db.Docker().PortMappings[0].ServicePort)
}

func TestCompileGroup_OrderIndependence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointEnv = true

	for name, topo := range map[string]*topology.Topology{
		"source first": webAndDB(),
		"target first": reversed(webAndDB()),
	} {
		t.Run(name, func(t *testing.T) {
			c := newCompiler(cfg)
			group, err := c.CompileGroup("shop", topo)
			require.NoError(t, err)

			web := mustApp(t, group, "webapp")
			db := mustApp(t, group, "dbapp")

			sqlPort := db.Docker().PortMappings[0].ServicePort
			assert.Equal(t, strconv.Itoa(sqlPort), web.Env["DBAPP_SQL_PORT"])
			assert.Equal(t, 2, c.Allocator().Len())
		})
	}
}

func TestCompileGroup_OrderIndependence_SingleApps(t *testing.T) {
	topo := webAndDB()
	web, _ := topo.Node("WebApp")
	db, _ := topo.Node("DbApp")

	// Source compiled before target.
	c1 := newCompiler(DefaultConfig())
	_, err := c1.CompileApp(topo, web)
	require.NoError(t, err)
	dbApp1, err := c1.CompileApp(topo, db)
	require.NoError(t, err)
	p1, _ := c1.Allocator().Lookup(ports.NewKey("dbapp", "sql"))

	// Target compiled before source.
	c2 := newCompiler(DefaultConfig())
	dbApp2, err := c2.CompileApp(topo, db)
	require.NoError(t, err)
	_, err = c2.CompileApp(topo, web)
	require.NoError(t, err)
	p2, _ := c2.Allocator().Lookup(ports.NewKey("dbapp", "sql"))

	assert.Equal(t, p1, dbApp1.Docker().PortMappings[0].ServicePort)
	assert.Equal(t, p2, dbApp2.Docker().PortMappings[0].ServicePort)
}

func TestCompileGroup_RecompileIsStable(t *testing.T) {
	c := newCompiler(DefaultConfig())

	first, err := c.CompileGroup("shop", webAndDB())
	require.NoError(t, err)
	second, err := c.CompileGroup("shop", reversed(webAndDB()))
	require.NoError(t, err)

	for _, id := range []string{"webapp", "dbapp"} {
		assert.Equal(t,
			mustApp(t, first, id).Docker().PortMappings,
			mustApp(t, second, id).Docker().PortMappings)
	}
	assert.Equal(t, 2, c.Allocator().Len())
}

func TestCompileGroup_SkipsNativeNodes(t *testing.T) {
	topo := webAndDB()
	topo.Nodes = append(topo.Nodes, topology.Node{ID: "Network", Type: "tosca.nodes.Network", Native: true})

	group, err := newCompiler(DefaultConfig()).CompileGroup("shop", topo)
	require.NoError(t, err)

	assert.Len(t, group.Apps, 2)
	_, ok := group.App("network")
	assert.False(t, ok)
}

func TestCompileGroup_RequiresDeploymentID(t *testing.T) {
	_, err := newCompiler(DefaultConfig()).CompileGroup("  ", webAndDB())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCompileGroup_MissingMemShareAborts(t *testing.T) {
	topo := webAndDB()
	delete(topo.Nodes[1].Properties, PropMemShare)

	c := newCompiler(DefaultConfig())
	group, err := c.CompileGroup("shop", topo)

	require.Error(t, err)
	assert.Nil(t, group)
	assert.ErrorIs(t, err, ErrValidation)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "DbApp", ce.NodeID)
	assert.Equal(t, PropMemShare, ce.Field)
	assert.Contains(t, err.Error(), "DbApp")
	assert.Contains(t, err.Error(), "mem_share")
}

func TestCompileGroup_MissingMemShareSkipped(t *testing.T) {
	topo := webAndDB()
	delete(topo.Nodes[1].Properties, PropMemShare)

	cfg := DefaultConfig()
	cfg.OnNodeError = SkipOnError
	group, err := newCompiler(cfg).CompileGroup("shop", topo)

	require.Error(t, err)
	require.NotNil(t, group)

	var ge *GroupError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, []string{"DbApp"}, ge.NodeIDs())
	assert.ErrorIs(t, err, ErrValidation)

	require.Len(t, group.Apps, 1)
	assert.Equal(t, "webapp", group.Apps[0].ID)
}

func TestCompileGroup_SkipCollectsEveryFailure(t *testing.T) {
	topo := webAndDB()
	delete(topo.Nodes[0].Properties, PropCPUShare)
	topo.Nodes[1].Interfaces = nil

	cfg := DefaultConfig()
	cfg.OnNodeError = SkipOnError
	group, err := newCompiler(cfg).CompileGroup("shop", topo)

	var ge *GroupError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, []string{"WebApp", "DbApp"}, ge.NodeIDs())
	assert.Contains(t, err.Error(), "2 nodes failed")
	assert.Empty(t, group.Apps)
}
