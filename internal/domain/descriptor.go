package domain

// ServiceTypeRevp is the reverse-proxy service type tag. The schema
// registry is open for future tags (tcp, udp, grpc, ...).
const ServiceTypeRevp = "revp"

// Descriptor is the typed, validated configuration for one declared service
// on one container. It is a pure function of the container's current labels
// and is recomputed on every reconciliation pass.
type Descriptor struct {
	// Instance is the service instance name declared in the label key,
	// e.g. "web" in snadboy.web.revp.domain.
	Instance string `json:"instance"`

	// Type is the service type tag, e.g. "revp".
	Type string `json:"type"`

	Domain string `json:"domain"`
	Port   int    `json:"port"`
	Path   string `json:"path"`
	Scheme string `json:"scheme"`

	WebSocket bool `json:"websocket"`
	SSLForce  bool `json:"ssl_force"`

	Middlewares []string `json:"middlewares,omitempty"`
}
