package openapi

import (
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// RouteBuilder describes one operation. Nothing is added to the document
// until Build.
type RouteBuilder struct {
	openapi   *OpenAPI
	method    string
	path      string
	operation *openapi3.Operation
}

func (rb *RouteBuilder) pathParams(path string) {
	for _, part := range strings.Split(path, "/") {
		if name, ok := strings.CutPrefix(part, ":"); ok {
			rb.param(name, openapi3.ParameterInPath).Required = true
		}
	}
}

func (rb *RouteBuilder) Summary(summary string) *RouteBuilder {
	rb.operation.Summary = summary
	return rb
}

func (rb *RouteBuilder) Description(description string) *RouteBuilder {
	rb.operation.Description = description
	return rb
}

func (rb *RouteBuilder) OperationID(id string) *RouteBuilder {
	rb.operation.OperationID = id
	return rb
}

func (rb *RouteBuilder) Tags(tags ...string) *RouteBuilder {
	rb.operation.Tags = append(rb.operation.Tags, tags...)
	return rb
}

func (rb *RouteBuilder) HeaderParam(name, description string, required bool) *RouteBuilder {
	param := rb.param(name, openapi3.ParameterInHeader)
	param.Description = description
	param.Required = required
	return rb
}

func (rb *RouteBuilder) CookieParam(name, description string) *RouteBuilder {
	rb.param(name, openapi3.ParameterInCookie).Description = description
	return rb
}

func (rb *RouteBuilder) param(name, in string) *openapi3.Parameter {
	for _, p := range rb.operation.Parameters {
		if p.Value != nil && p.Value.Name == name && p.Value.In == in {
			return p.Value
		}
	}

	param := &openapi3.Parameter{
		Name:   name,
		In:     in,
		Schema: openapi3.NewStringSchema().NewRef(),
	}
	rb.operation.Parameters = append(rb.operation.Parameters, &openapi3.ParameterRef{Value: param})
	return param
}

// Body sets a required JSON request body shaped like example.
func (rb *RouteBuilder) Body(example any, description string) *RouteBuilder {
	rb.operation.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithDescription(description).
			WithRequired(true).
			WithJSONSchemaRef(rb.openapi.schemaFor(example)),
	}
	return rb
}

// Response documents status. A nil example means the response has no body.
func (rb *RouteBuilder) Response(status int, example any, description string) *RouteBuilder {
	response := openapi3.NewResponse().WithDescription(description)
	if example != nil {
		response.Content = openapi3.NewContentWithJSONSchemaRef(rb.openapi.schemaFor(example))
	}
	rb.operation.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: response})
	return rb
}

// ResponseHeader documents a header on an already described response.
func (rb *RouteBuilder) ResponseHeader(status int, name, description string) *RouteBuilder {
	ref := rb.operation.Responses.Status(status)
	if ref == nil || ref.Value == nil {
		return rb
	}
	if ref.Value.Headers == nil {
		ref.Value.Headers = make(openapi3.Headers)
	}
	ref.Value.Headers[name] = &openapi3.HeaderRef{
		Value: &openapi3.Header{
			Parameter: openapi3.Parameter{
				Description: description,
				Schema:      openapi3.NewStringSchema().NewRef(),
			},
		},
	}
	return rb
}

// Security requires any one of schemes.
func (rb *RouteBuilder) Security(schemes ...string) *RouteBuilder {
	if rb.operation.Security == nil {
		rb.operation.Security = openapi3.NewSecurityRequirements()
	}
	for _, scheme := range schemes {
		rb.operation.Security.With(openapi3.NewSecurityRequirement().Authenticate(scheme))
	}
	return rb
}

func (rb *RouteBuilder) NoSecurity() *RouteBuilder {
	rb.operation.Security = openapi3.NewSecurityRequirements()
	return rb
}

func (rb *RouteBuilder) Build() {
	rb.openapi.addOperation(rb.method, rb.path, rb.operation)
}
