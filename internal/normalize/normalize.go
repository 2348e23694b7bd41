// Package normalize turns parser output into the envelope returned to
// callers: either the draft as-is or the canonical order document.
package normalize

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/model"
)

// Normalizer converts a parser's output into the pipeline result.
type Normalizer interface {
	Normalize(parsed *model.ParseOutput) (*model.Output, error)
}

// Deps configure the built-in normalizers.
type Deps struct {
	Tables *mapping.Tables
	Now    func() time.Time
	// Validate checks canonical documents against the embedded JSON Schema.
	Validate bool
}

// Registry maps normalizer keys to constructors. It is built once and only read afterwards.
type Registry struct {
	deps      Deps
	factories map[string]func(Deps) Normalizer
}

// NewRegistry registers legacy_passthrough and canonical_v1.
func NewRegistry(deps Deps) *Registry {
	if deps.Tables == nil {
		deps.Tables = mapping.Defaults()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		deps: deps,
		factories: map[string]func(Deps) Normalizer{
			model.NormalizerPassthrough: func(Deps) Normalizer { return Passthrough{} },
			model.NormalizerCanonicalV1: func(d Deps) Normalizer { return NewCanonical(d) },
		},
	}
}

// Get returns the normalizer registered under key.
func (r *Registry) Get(key string) (Normalizer, error) {
	f, ok := r.factories[key]
	if !ok {
		return nil, eris.Errorf("normalize: unknown normalizer key %q", key)
	}
	return f(r.deps), nil
}
