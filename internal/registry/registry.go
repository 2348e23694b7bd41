// Package registry resolves model definitions from declarative files and the
// model store. Registries are immutable snapshots; reloading builds a new one.
package registry

import (
	"context"

	"github.com/sells-group/order-parser/internal/model"
)

// Registry looks up model definitions. Get and GetByName return (nil, nil)
// when the id is unknown.
type Registry interface {
	List(ctx context.Context) ([]model.Definition, error)
	Get(ctx context.Context, id string) (*model.Definition, error)
	GetByName(ctx context.Context, name string) (*model.Definition, error)
}

// Static is an in-memory registry. Later duplicates of an id replace earlier
// ones but keep the first position.
type Static struct {
	order []string
	byID  map[string]model.Definition
}

// NewStatic indexes defs by id.
func NewStatic(defs ...model.Definition) *Static {
	s := &Static{byID: make(map[string]model.Definition, len(defs))}
	for _, d := range defs {
		if _, seen := s.byID[d.ID]; !seen {
			s.order = append(s.order, d.ID)
		}
		s.byID[d.ID] = d
	}
	return s
}

// List returns the definitions in insertion order.
func (s *Static) List(_ context.Context) ([]model.Definition, error) {
	out := make([]model.Definition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Get returns the definition with the given id.
func (s *Static) Get(_ context.Context, id string) (*model.Definition, error) {
	d, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// GetByName is Get: model names are their ids.
func (s *Static) GetByName(ctx context.Context, name string) (*model.Definition, error) {
	return s.Get(ctx, name)
}

// Len returns the number of definitions.
func (s *Static) Len() int { return len(s.order) }

// Composite merges sources in priority order: the first source that knows an
// id wins, for List as well as Get.
type Composite struct {
	sources []Registry
}

// NewComposite builds a composite over sources, highest priority first.
func NewComposite(sources ...Registry) *Composite {
	return &Composite{sources: sources}
}

// List returns every distinct id, keeping the definition from the earliest
// source and the order in which ids were first seen.
func (c *Composite) List(ctx context.Context) ([]model.Definition, error) {
	seen := make(map[string]struct{})
	var out []model.Definition
	for _, src := range c.sources {
		defs, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			out = append(out, d)
		}
	}
	return out, nil
}

// Get asks each source in turn.
func (c *Composite) Get(ctx context.Context, id string) (*model.Definition, error) {
	for _, src := range c.sources {
		d, err := src.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// GetByName is Get.
func (c *Composite) GetByName(ctx context.Context, name string) (*model.Definition, error) {
	return c.Get(ctx, name)
}
