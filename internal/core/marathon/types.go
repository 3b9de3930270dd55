// Package marathon defines the deployment manifest produced by the compiler:
// a Group of Apps in the container orchestrator's wire format.
//
// The package is part of the functional core. It also carries pure helpers
// over compiled manifests (startup ordering, compose preview).
package marathon

// =============================================================================
// Manifest Constants
// =============================================================================

const (
	// ContainerDocker is the only container type the compiler emits.
	ContainerDocker = "DOCKER"

	NetworkBridge = "BRIDGE"
	NetworkHost   = "HOST"

	ProtocolTCP = "tcp"
)

// =============================================================================
// Group
// =============================================================================

// Group is the manifest of one deployed topology.
type Group struct {
	ID           string   `json:"id"`
	Apps         []*App   `json:"apps"`
	Dependencies []string `json:"dependencies"`
}

// NewGroup creates an empty group.
func NewGroup(id string) *Group {
	return &Group{
		ID:           id,
		Apps:         make([]*App, 0),
		Dependencies: make([]string, 0),
	}
}

// App returns the member app with the given id.
func (g *Group) App(id string) (*App, bool) {
	for _, a := range g.Apps {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// =============================================================================
// App
// =============================================================================

// App is the manifest of one topology node.
type App struct {
	ID           string            `json:"id"`
	CPUs         float64           `json:"cpus"`
	Mem          float64           `json:"mem"`
	Instances    int               `json:"instances"`
	Container    *Container        `json:"container"`
	Env          map[string]string `json:"env"`
	Labels       map[string]string `json:"labels"`
	Dependencies []string          `json:"dependencies"`
}

// NewApp creates an app with a docker container and empty collections.
func NewApp(id string) *App {
	return &App{
		ID:        id,
		Instances: 1,
		Container: &Container{
			Type: ContainerDocker,
			Docker: &Docker{
				PortMappings: make([]PortMapping, 0),
				Parameters:   make([]Parameter, 0),
			},
		},
		Env:          make(map[string]string),
		Labels:       make(map[string]string),
		Dependencies: make([]string, 0),
	}
}

// Docker returns the docker section of the app container.
func (a *App) Docker() *Docker {
	if a.Container == nil {
		return nil
	}
	return a.Container.Docker
}

// Container is the container section of an app.
type Container struct {
	Type   string  `json:"type"`
	Docker *Docker `json:"docker,omitempty"`
}

// Docker holds docker specific container settings.
type Docker struct {
	Image        string        `json:"image"`
	Network      string        `json:"network,omitempty"`
	PortMappings []PortMapping `json:"portMappings"`
	Parameters   []Parameter   `json:"parameters"`
}

// PortMapping maps a container port onto the backend's service port.
// A zero ContainerPort lets the backend choose one. HostPort is only set
// in BRIDGE mode.
type PortMapping struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort,omitempty"`
	ServicePort   int    `json:"servicePort"`
	Protocol      string `json:"protocol,omitempty"`
}

// Parameter is a raw docker run parameter.
type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
