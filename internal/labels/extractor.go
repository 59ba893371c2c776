// Package labels turns raw container label mappings into typed, validated
// service descriptors. Extraction never mutates shared state; descriptors
// are recomputed on every pass and never stored.
package labels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/logger"
)

// Extractor selects labels under a discovery prefix and maps them through
// the schema registry. Label keys are matched case-insensitively.
type Extractor struct {
	prefix   string
	registry *Registry
	log      logger.Logger
}

// New builds an Extractor. prefix must include the trailing dot
// (e.g. "snadboy.").
func New(prefix string, registry *Registry, log logger.Logger) *Extractor {
	return &Extractor{
		prefix:   strings.ToLower(prefix),
		registry: registry,
		log:      log,
	}
}

type serviceKey struct {
	instance string
	typ      string
}

// Extract returns one descriptor per valid declared service instance, plus
// one error per invalid instance. An invalid instance never suppresses its
// siblings, and a container without matching labels yields (nil, nil).
// Descriptors are ordered by instance name for deterministic output.
func (e *Extractor) Extract(containerLabels map[string]string) ([]domain.Descriptor, []error) {
	groups := make(map[serviceKey]map[string]string)
	var errs []error

	for key, value := range containerLabels {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, e.prefix) {
			continue
		}

		// Key layout after the prefix: <instance>.<type>.<field>
		rest := lower[len(e.prefix):]
		parts := strings.SplitN(rest, ".", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			errs = append(errs, fmt.Errorf("%w: label %q: want %s<instance>.<type>.<field>",
				domain.ErrValidation, key, e.prefix))
			continue
		}

		sk := serviceKey{instance: parts[0], typ: parts[1]}
		if groups[sk] == nil {
			groups[sk] = make(map[string]string)
		}
		groups[sk][parts[2]] = value
	}

	keys := make([]serviceKey, 0, len(groups))
	for sk := range groups {
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].instance != keys[j].instance {
			return keys[i].instance < keys[j].instance
		}
		return keys[i].typ < keys[j].typ
	})

	var descriptors []domain.Descriptor
	for _, sk := range keys {
		desc, err := e.resolve(sk, groups[sk])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descriptors = append(descriptors, desc)
	}

	return descriptors, errs
}

func (e *Extractor) resolve(sk serviceKey, raw map[string]string) (domain.Descriptor, error) {
	schema, ok := e.registry.Get(sk.typ)
	if !ok {
		return domain.Descriptor{}, fmt.Errorf("%w: service %q: unknown service type %q",
			domain.ErrValidation, sk.instance, sk.typ)
	}

	fields := make(map[string]string, len(schema.Required)+len(schema.Optional))
	known := make(map[string]bool, len(schema.Required)+len(schema.Optional))

	for _, f := range schema.Required {
		known[f.Name] = true
		value, present := raw[f.Name]
		if !present {
			return domain.Descriptor{}, fmt.Errorf("%w: service %q: missing required field %q",
				domain.ErrValidation, sk.instance, f.Name)
		}
		if f.Validate != nil {
			if err := f.Validate(value); err != nil {
				return domain.Descriptor{}, fmt.Errorf("%w: service %q: field %q: %v",
					domain.ErrValidation, sk.instance, f.Name, err)
			}
		}
		fields[f.Name] = value
	}

	for _, f := range schema.Optional {
		known[f.Name] = true
		value, present := raw[f.Name]
		if !present {
			fields[f.Name] = f.Default
			continue
		}
		if f.Validate != nil {
			if err := f.Validate(value); err != nil {
				return domain.Descriptor{}, fmt.Errorf("%w: service %q: field %q: %v",
					domain.ErrValidation, sk.instance, f.Name, err)
			}
		}
		fields[f.Name] = value
	}

	// Unknown fields do not invalidate the instance; a newer label set on
	// an older monitor should degrade to a warning, not a lost route.
	var unknown []string
	for name := range raw {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 && e.log != nil {
		sort.Strings(unknown)
		e.log.Warn("ignoring unknown service fields",
			logger.String("service", sk.instance),
			logger.String("type", sk.typ),
			logger.String("fields", strings.Join(unknown, ",")))
	}

	return schema.Build(sk.instance, fields), nil
}
