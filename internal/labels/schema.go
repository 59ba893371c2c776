package labels

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/snadboy/dockmon/internal/domain"
)

// Field is one schema field with optional validation. Default applies only
// to optional fields; required fields must be present.
type Field struct {
	Name     string
	Default  string
	Validate func(value string) error
}

// Schema declares the fields of one service type and how to build a typed
// descriptor once all fields validated.
type Schema struct {
	Type     string
	Required []Field
	Optional []Field

	// Build maps validated field values to a descriptor. Values are
	// guaranteed to have passed their validators, so conversion errors
	// cannot occur here.
	Build func(instance string, fields map[string]string) domain.Descriptor
}

// Registry maps service type tags to schemas. The zero value is empty;
// NewRegistry pre-registers the built-in types.
type Registry struct {
	schemas map[string]Schema
}

func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}
	r.Register(revpSchema())
	return r
}

func (r *Registry) Register(s Schema) {
	r.schemas[s.Type] = s
}

func (r *Registry) Get(typ string) (Schema, bool) {
	s, ok := r.schemas[typ]
	return s, ok
}

// revpSchema is the reverse-proxy service type: a domain+path published
// through the proxy to a container port.
func revpSchema() Schema {
	return Schema{
		Type: domain.ServiceTypeRevp,
		Required: []Field{
			{Name: "domain", Validate: validateDomain},
			{Name: "port", Validate: validatePort},
		},
		Optional: []Field{
			{Name: "path", Default: "/", Validate: validatePath},
			{Name: "scheme", Default: "http", Validate: validateScheme},
			{Name: "websocket", Default: "false", Validate: validateBool},
			// Empty means "derive from scheme" at build time.
			{Name: "ssl_force", Default: "", Validate: validateOptionalBool},
			{Name: "middleware", Default: ""},
			// Accepted for label compatibility; not rendered into routes.
			{Name: "headers", Default: ""},
		},
		Build: buildRevp,
	}
}

func buildRevp(instance string, fields map[string]string) domain.Descriptor {
	port, _ := strconv.Atoi(fields["port"])
	websocket, _ := strconv.ParseBool(fields["websocket"])

	scheme := fields["scheme"]
	sslForce := scheme == "https"
	if v := fields["ssl_force"]; v != "" {
		sslForce, _ = strconv.ParseBool(v)
	}

	var middlewares []string
	for _, m := range strings.Split(fields["middleware"], ",") {
		if m = strings.TrimSpace(m); m != "" {
			middlewares = append(middlewares, m)
		}
	}

	return domain.Descriptor{
		Instance:    instance,
		Type:        domain.ServiceTypeRevp,
		Domain:      fields["domain"],
		Port:        port,
		Path:        fields["path"],
		Scheme:      scheme,
		WebSocket:   websocket,
		SSLForce:    sslForce,
		Middlewares: middlewares,
	}
}

// field validators

func validateDomain(v string) error {
	if v == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.ContainsAny(v, " /") {
		return fmt.Errorf("%q is not a valid domain", v)
	}
	return nil
}

func validatePort(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%q is not a valid port (1-65535)", v)
	}
	return nil
}

func validatePath(v string) error {
	if !strings.HasPrefix(v, "/") {
		return fmt.Errorf("path %q must start with /", v)
	}
	return nil
}

func validateScheme(v string) error {
	if v != "http" && v != "https" {
		return fmt.Errorf("scheme %q must be http or https", v)
	}
	return nil
}

func validateBool(v string) error {
	if _, err := strconv.ParseBool(v); err != nil {
		return fmt.Errorf("%q is not a boolean", v)
	}
	return nil
}

func validateOptionalBool(v string) error {
	if v == "" {
		return nil
	}
	return validateBool(v)
}
