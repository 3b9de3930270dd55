package marathon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/types"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Compose Preview
// =============================================================================

var invalidServiceChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// ComposeServiceName turns an app id into a valid compose service name.
func ComposeServiceName(appID string) string {
	name := invalidServiceChars.ReplaceAllString(strings.ToLower(appID), "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "app"
	}
	return name
}

// ComposeProject renders a compiled group as a docker-compose project so a
// topology can be previewed on a single docker host.
//
// Each app becomes a service. Service ports are published on the host and
// forwarded to the container port (or to the same port when the backend
// would have picked one). HOST network apps use network_mode host and
// publish nothing. Dependencies on apps outside the group are dropped.
func ComposeProject(g *Group) (*types.Project, error) {
	project := &types.Project{
		Name:     ComposeServiceName(g.ID),
		Services: types.Services{},
	}

	members := make(map[string]bool, len(g.Apps))
	for _, a := range g.Apps {
		members[a.ID] = true
	}

	for _, a := range g.Apps {
		svc, err := composeService(a, members)
		if err != nil {
			return nil, err
		}
		if _, dup := project.Services[svc.Name]; dup {
			return nil, fmt.Errorf("apps collide on compose service name %q", svc.Name)
		}
		project.Services[svc.Name] = svc
	}

	return project, nil
}

// ComposeYAML renders a compiled group as docker-compose YAML.
func ComposeYAML(g *Group) ([]byte, error) {
	project, err := ComposeProject(g)
	if err != nil {
		return nil, err
	}
	return project.MarshalYAML()
}

func composeService(a *App, members map[string]bool) (types.ServiceConfig, error) {
	svc := types.ServiceConfig{
		Name:        ComposeServiceName(a.ID),
		Environment: types.MappingWithEquals{},
		Labels:      types.Labels{},
		CPUS:        float32(a.CPUs),
		MemLimit:    types.UnitBytes(int64(a.Mem) * 1024 * 1024),
	}

	instances := a.Instances
	svc.Deploy = &types.DeployConfig{Replicas: &instances}

	docker := a.Docker()
	if docker != nil {
		svc.Image = docker.Image
	}

	for k, v := range a.Env {
		value := v
		svc.Environment[k] = &value
	}
	for k, v := range a.Labels {
		svc.Labels[k] = v
	}

	if len(a.Dependencies) > 0 {
		svc.DependsOn = types.DependsOnConfig{}
		for _, dep := range a.Dependencies {
			if !members[dep] {
				continue
			}
			svc.DependsOn[ComposeServiceName(dep)] = types.ServiceDependency{
				Condition: types.ServiceConditionStarted,
				Required:  true,
			}
		}
	}

	if docker == nil {
		return svc, nil
	}
	if docker.Network == NetworkHost {
		svc.NetworkMode = "host"
		return svc, nil
	}

	for _, pm := range docker.PortMappings {
		target := pm.ContainerPort
		if target == 0 {
			target = pm.ServicePort
		}
		proto := pm.Protocol
		if proto == "" {
			proto = ProtocolTCP
		}
		port, err := nat.NewPort(proto, strconv.Itoa(target))
		if err != nil {
			return svc, fmt.Errorf("app %s: %w", a.ID, err)
		}

		published := pm.ServicePort
		if pm.HostPort > 0 {
			published = pm.HostPort
		}

		svc.Ports = append(svc.Ports, types.ServicePortConfig{
			Mode:      "ingress",
			Target:    uint32(port.Int()),
			Published: strconv.Itoa(published),
			Protocol:  port.Proto(),
		})
	}

	return svc, nil
}
