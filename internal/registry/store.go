package registry

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-parser/internal/model"
)

// ModelSource is the part of the model store the registry reads.
type ModelSource interface {
	ListModels(ctx context.Context) ([]model.ParserModel, error)
	GetModel(ctx context.Context, name string) (*model.ParserModel, error)
}

// Store exposes persisted models as definitions. Every call reads through to
// the store, so updates are visible without a reload.
type Store struct {
	src ModelSource
}

// NewStore wraps a model source.
func NewStore(src ModelSource) *Store {
	return &Store{src: src}
}

// List converts every persisted model.
func (s *Store) List(ctx context.Context) ([]model.Definition, error) {
	models, err := s.src.ListModels(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list stored models")
	}
	out := make([]model.Definition, 0, len(models))
	for i := range models {
		out = append(out, FromParserModel(&models[i]))
	}
	return out, nil
}

// Get loads one persisted model by name.
func (s *Store) Get(ctx context.Context, id string) (*model.Definition, error) {
	m, err := s.src.GetModel(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: get stored model %s", id)
	}
	if m == nil {
		return nil, nil
	}
	d := FromParserModel(m)
	return &d, nil
}

// GetByName is Get.
func (s *Store) GetByName(ctx context.Context, name string) (*model.Definition, error) {
	return s.Get(ctx, name)
}

// FromParserModel builds a definition from a persisted model and its current
// version. Parser and normalizer keys live in the version's detection rules.
func FromParserModel(m *model.ParserModel) model.Definition {
	d := model.Definition{
		ID:            m.Name,
		Label:         orDefault(m.DisplayName, m.Name),
		ParserKey:     model.ParserLegacyWorkflow,
		NormalizerKey: model.NormalizerCanonicalV1,
		Version:       "1.0",
		Status:        model.ModelInactive,
		Enabled:       m.Active,
	}
	if m.Active {
		d.Status = model.ModelActive
	}
	if v := m.CurrentVersion; v != nil {
		d.Detection = v.DetectionRules
		d.Mapping = v.MappingConfig
		d.Version = orDefault(v.Version, "1.0")
		d.ParserKey = orDefault(v.DetectionRules.ParserKey, d.ParserKey)
		d.NormalizerKey = orDefault(v.DetectionRules.NormalizerKey, d.NormalizerKey)
	}
	return d
}

var _ Registry = (*Store)(nil)
