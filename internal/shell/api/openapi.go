package api

import (
	"net/http"

	manifest "github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/shell/api/openapi"
)

// routeDocs describes the routes served by Routes.
func routeDocs() []openapi.Route {
	topologyBody := "application/yaml"
	deploymentQuery := openapi.Param{
		Name:        "deployment_id",
		Description: "Overrides the deployment id of the document",
	}

	return []openapi.Route{
		{Method: http.MethodGet, Path: "/health", OperationID: "health", Summary: "Liveness probe", Tag: "Health",
			Response: HealthResponse{}},
		{Method: http.MethodGet, Path: "/ready", OperationID: "ready", Summary: "Readiness probe", Tag: "Health",
			Response: ReadyResponse{}},

		{Method: http.MethodPost, Path: "/api/v1/compile", OperationID: "compileTopology",
			Summary: "Compile a topology without deploying it", Tag: "Compile",
			RequestType: topologyBody, Response: CompileResponse{},
			Query: []openapi.Param{
				deploymentQuery,
				{Name: "format", Description: "compose renders a docker-compose document instead"},
			}},
		{Method: http.MethodGet, Path: "/api/v1/ports", OperationID: "listPorts",
			Summary: "List service port assignments", Tag: "Ports", Response: PortsResponse{}},

		{Method: http.MethodPost, Path: "/api/v1/deployments", OperationID: "createDeployment",
			Summary: "Compile a topology and submit it to the backend", Tag: "Deployments",
			RequestType: topologyBody, Status: http.StatusAccepted, Response: DeploymentResponse{},
			Query: []openapi.Param{deploymentQuery}},
		{Method: http.MethodGet, Path: "/api/v1/deployments", OperationID: "listDeployments",
			Summary: "List deployments", Tag: "Deployments", Response: ListDeploymentsResponse{},
			Query: []openapi.Param{
				{Name: "limit", Type: "integer"},
				{Name: "offset", Type: "integer"},
				{Name: "status"},
			}},
		{Method: http.MethodGet, Path: "/api/v1/deployments/{id}", OperationID: "getDeployment",
			Summary: "Get a deployment", Tag: "Deployments", Response: DeploymentResponse{}},
		{Method: http.MethodDelete, Path: "/api/v1/deployments/{id}", OperationID: "deleteDeployment",
			Summary: "Remove a deployment's group from the backend", Tag: "Deployments", Response: DeploymentResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/deployments/{id}/tasks", OperationID: "listDeploymentTasks",
			Summary: "List the tasks of a deployment", Tag: "Deployments", Response: TasksResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/deployments/{id}/manifest", OperationID: "getDeploymentManifest",
			Summary: "Get the submitted group of a deployment", Tag: "Deployments", Response: manifest.Group{}},
	}
}
