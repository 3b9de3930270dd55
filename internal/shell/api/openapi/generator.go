// Package openapi builds the OpenAPI 3.0 document of the HTTP API by
// reflecting on the request and response types of each route.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces an OpenAPI 3.0 document from registered routes.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	errorModel  any
	routes      []Route
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// Route describes one operation of the API.
type Route struct {
	Method      string
	Path        string // chi style, e.g. /api/v1/deployments/{id}
	OperationID string
	Summary     string
	Tag         string

	// RequestType is the media type of the request body. Request, when
	// set, is reflected into its schema; otherwise the body is a string.
	RequestType string
	Request     any

	Status       int // success status, default 200
	ResponseType string
	Response     any

	Query []Param
}

// Param is a query parameter.
type Param struct {
	Name        string
	Type        string // string, integer, boolean
	Description string
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// WithErrorModel sets the body returned by every failing operation.
func WithErrorModel(model any) Option {
	return func(g *Generator) {
		g.errorModel = model
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Marathoner API",
		version:     "1.0.0",
		description: "Compiles application topologies into container groups and tracks their deployments",
		routes:      make([]Route, 0),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Register adds routes to the document.
func (g *Generator) Register(routes ...Route) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes = append(g.routes, routes...)
	g.cachedSpec = nil
}

// Generate produces the OpenAPI document. The result is cached until the
// next Register.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	b := &schemaBuilder{schemas: spec.Components.Schemas}

	var errorRef *openapi3.SchemaRef
	if g.errorModel != nil {
		errorRef = b.schemaFor(reflect.TypeOf(g.errorModel))
	}

	for _, route := range g.routes {
		item := spec.Paths.Value(route.Path)
		if item == nil {
			item = &openapi3.PathItem{Parameters: pathParameters(route.Path)}
			spec.Paths.Set(route.Path, item)
		}
		item.SetOperation(route.Method, b.operation(route, errorRef))
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the document as JSON.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Operations
// =============================================================================

func (b *schemaBuilder) operation(route Route, errorRef *openapi3.SchemaRef) *openapi3.Operation {
	op := &openapi3.Operation{
		OperationID: route.OperationID,
		Summary:     route.Summary,
		Responses:   &openapi3.Responses{},
	}
	if route.Tag != "" {
		op.Tags = []string{route.Tag}
	}

	for _, p := range route.Query {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:        p.Name,
				In:          "query",
				Description: p.Description,
				Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}},
			},
		})
	}

	if route.RequestType != "" || route.Request != nil {
		mediaType := route.RequestType
		if mediaType == "" {
			mediaType = "application/json"
		}
		schema := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
		if route.Request != nil {
			schema = b.schemaFor(reflect.TypeOf(route.Request))
		}
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content: openapi3.Content{
					mediaType: &openapi3.MediaType{Schema: schema},
				},
			},
		}
	}

	statusCode := route.Status
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	success := openapi3.NewResponse().WithDescription(http.StatusText(statusCode))
	if route.Response != nil {
		mediaType := route.ResponseType
		if mediaType == "" {
			mediaType = "application/json"
		}
		success.Content = openapi3.Content{
			mediaType: &openapi3.MediaType{Schema: b.schemaFor(reflect.TypeOf(route.Response))},
		}
	}
	op.Responses.Set(strconv.Itoa(statusCode), &openapi3.ResponseRef{Value: success})

	if errorRef != nil {
		failure := openapi3.NewResponse().WithDescription("Error").WithJSONSchemaRef(errorRef)
		op.Responses.Set("default", &openapi3.ResponseRef{Value: failure})
	}

	return op
}

// pathParameters declares a string parameter for every {name} segment.
func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, seg := range strings.Split(path, "/") {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		params = append(params, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     strings.Trim(seg, "{}"),
				In:       "path",
				Required: true,
				Schema:   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		})
	}
	return params
}

// =============================================================================
// Schema Generation
// =============================================================================

var timeType = reflect.TypeOf(time.Time{})

// schemaBuilder turns Go types into schemas. Named structs become
// components and are referenced by name.
type schemaBuilder struct {
	schemas openapi3.Schemas
}

func (b *schemaBuilder) schemaFor(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		// []byte is encoded as base64 by encoding/json
		if t.Elem().Kind() == reflect.Uint8 {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "byte"}}
		}
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: b.schemaFor(t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: b.schemaFor(t.Elem())},
			},
		}

	case reflect.Ptr:
		return b.schemaFor(t.Elem())

	case reflect.Struct:
		if t == timeType {
			return &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
			}
		}
		if t.Name() == "" {
			return &openapi3.SchemaRef{Value: b.structSchema(t)}
		}
		name := t.Name()
		if _, ok := b.schemas[name]; !ok {
			// Placeholder first so self-referencing types terminate.
			b.schemas[name] = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
			b.schemas[name] = &openapi3.SchemaRef{Value: b.structSchema(t)}
		}
		return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}

	default:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

func (b *schemaBuilder) structSchema(t reflect.Type) *openapi3.Schema {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}
	b.addFields(schema, t)
	return schema
}

func (b *schemaBuilder) addFields(schema *openapi3.Schema, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(jsonTag, ",")

		// Untagged embedded structs are flattened by encoding/json.
		if field.Anonymous && name == "" && field.Type.Kind() == reflect.Struct {
			b.addFields(schema, field.Type)
			continue
		}
		if !field.IsExported() {
			continue
		}

		if name == "" {
			name = field.Name
		}
		schema.Properties[name] = b.schemaFor(field.Type)
		if !strings.Contains(opts, "omitempty") && field.Type.Kind() != reflect.Ptr {
			schema.Required = append(schema.Required, name)
		}
	}
}
