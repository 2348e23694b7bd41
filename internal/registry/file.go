package registry

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/order-parser/internal/model"
)

// File is a snapshot of models.yaml. It is never empty: when the file is
// missing, unreadable or lists no valid models, a generic fallback is used.
type File struct {
	*Static
	path string
}

type modelsFile struct {
	Models []yaml.Node `yaml:"models"`
}

type modelItem struct {
	ID         string               `yaml:"id"`
	Label      string               `yaml:"label"`
	Parser     string               `yaml:"parser"`
	Normalizer string               `yaml:"normalizer"`
	Version    string               `yaml:"version"`
	Status     *string              `yaml:"status"`
	Enabled    *bool                `yaml:"enabled"`
	Detection  model.DetectionRules `yaml:"detection"`
	Mapping    model.MappingConfig  `yaml:"mapping_config"`
}

// GenericDefinition is the catch-all model synthesized for an empty catalog.
func GenericDefinition() model.Definition {
	return model.Definition{
		ID:            model.GenericModelID,
		Label:         "Generic (legacy)",
		ParserKey:     model.ParserLegacyWorkflow,
		NormalizerKey: model.NormalizerCanonicalV1,
		Version:       "1.0",
		Status:        model.ModelActive,
		Enabled:       true,
		Detection:     model.DetectionRules{Fallback: true},
	}
}

// LoadFile reads models.yaml at path.
func LoadFile(path string) *File {
	defs, err := readModels(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		zap.L().Warn("registry: models file not found", zap.String("path", path))
	case err != nil:
		zap.L().Error("registry: load models file failed", zap.String("path", path), zap.Error(err))
	}
	if len(defs) == 0 {
		zap.L().Warn("registry: no models configured, using generic fallback", zap.String("path", path))
		defs = []model.Definition{GenericDefinition()}
	}
	zap.L().Info("registry: loaded models", zap.String("path", path), zap.Int("count", len(defs)))
	return &File{Static: NewStatic(defs...), path: path}
}

// Reload re-reads the file into a new snapshot. The receiver is unchanged.
func (f *File) Reload() *File {
	return LoadFile(f.path)
}

// Path returns the file the snapshot was read from.
func (f *File) Path() string { return f.path }

// ReadFile parses models.yaml without falling back to the generic model.
// Malformed entries are skipped and logged.
func ReadFile(path string) ([]model.Definition, error) {
	return readModels(path)
}

func readModels(path string) ([]model.Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	var mf modelsFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}

	var defs []model.Definition
	for i := range mf.Models {
		var item modelItem
		if err := mf.Models[i].Decode(&item); err != nil {
			zap.L().Warn("registry: skipping malformed model",
				zap.Int("line", mf.Models[i].Line),
				zap.Error(err),
			)
			continue
		}
		d, ok := item.definition()
		if !ok {
			zap.L().Warn("registry: skipping model without id", zap.Int("line", mf.Models[i].Line))
			continue
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func (it modelItem) definition() (model.Definition, bool) {
	id := strings.TrimSpace(it.ID)
	if id == "" {
		return model.Definition{}, false
	}
	d := model.Definition{
		ID:            id,
		Label:         orDefault(it.Label, id),
		ParserKey:     orDefault(it.Parser, model.ParserLegacyWorkflow),
		NormalizerKey: orDefault(it.Normalizer, model.NormalizerPassthrough),
		Version:       orDefault(it.Version, "1.0"),
		Status:        model.ModelActive,
		Enabled:       true,
		Detection:     it.Detection,
		Mapping:       it.Mapping,
	}
	if it.Enabled != nil {
		d.Enabled = *it.Enabled
	}
	// An explicit status decides the enabled flag.
	if it.Status != nil {
		d.Status = model.ModelStatus(strings.ToLower(orDefault(*it.Status, string(model.ModelActive))))
		d.Enabled = d.Status == model.ModelActive
	}
	return d, true
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

var _ Registry = (*File)(nil)
