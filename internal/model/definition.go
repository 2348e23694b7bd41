package model

// Parser and normalizer keys understood by the pipeline.
const (
	ParserLegacyWorkflow = "legacy_workflow"
	ParserLAR            = "lar_parser"
	ParserBRF            = "brf_parser"

	NormalizerPassthrough = "legacy_passthrough"
	NormalizerCanonicalV1 = "canonical_v1"

	// GenericModelID is the catch-all model used for fallback routing.
	GenericModelID = "generic"
)

// ModelStatus is the lifecycle state of a model definition.
type ModelStatus string

const (
	ModelActive   ModelStatus = "active"
	ModelInactive ModelStatus = "inactive"
)

// Definition is one trading partner's parsing configuration.
type Definition struct {
	ID            string         `json:"id" yaml:"id"`
	Label         string         `json:"label" yaml:"label"`
	ParserKey     string         `json:"parser" yaml:"parser"`
	NormalizerKey string         `json:"normalizer" yaml:"normalizer"`
	Version       string         `json:"version" yaml:"version"`
	Status        ModelStatus    `json:"status" yaml:"status"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Detection     DetectionRules `json:"detection" yaml:"detection"`
	Mapping       MappingConfig  `json:"mapping_config" yaml:"mapping_config"`
}

// Usable reports whether the model may take part in detection.
func (d Definition) Usable() bool {
	return d.Enabled && d.Status == ModelActive
}

// IsFallback reports whether the model is the designated catch-all.
func (d Definition) IsFallback() bool {
	return d.ID == GenericModelID || d.Detection.Fallback
}

// DetectionRules are the signals the rule detector scores.
type DetectionRules struct {
	Keywords       []string `json:"keywords,omitempty" yaml:"keywords"`
	CustomerNames  []string `json:"customer_names,omitempty" yaml:"customer_names"`
	CustomerCNPJs  []string `json:"customer_cnpjs,omitempty" yaml:"customer_cnpjs"`
	HeaderRegex    []string `json:"header_regex,omitempty" yaml:"header_regex"`
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields"`
	Fallback       bool     `json:"fallback,omitempty" yaml:"fallback"`
	ParserKey      string   `json:"parser_key,omitempty" yaml:"parser_key"`
	NormalizerKey  string   `json:"normalizer_key,omitempty" yaml:"normalizer_key"`
}

// Empty reports whether no rule, flag or key is set.
func (r DetectionRules) Empty() bool {
	return len(r.Keywords) == 0 && len(r.CustomerNames) == 0 && len(r.CustomerCNPJs) == 0 &&
		len(r.HeaderRegex) == 0 && len(r.RequiredFields) == 0 && !r.Fallback &&
		r.ParserKey == "" && r.NormalizerKey == ""
}

// MappingConfig lists field overrides applied by the canonical normalizer.
type MappingConfig struct {
	Fields     []FieldMapping `json:"fields,omitempty" yaml:"fields"`
	ItemFields []FieldMapping `json:"item_fields,omitempty" yaml:"item_fields"`
}

// Empty reports whether no mapping is configured.
func (m MappingConfig) Empty() bool {
	return len(m.Fields) == 0 && len(m.ItemFields) == 0
}

// FieldMapping copies Source (a path in the parser output) into Target
// (a canonical path) after applying Transform.
type FieldMapping struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Transform string `json:"transform,omitempty" yaml:"transform"`
}

// Detection is the detector's choice for one document.
type Detection struct {
	ModelID    string     `json:"model_id"`
	Confidence float64    `json:"confidence"`
	Reasons    []string   `json:"reasons"`
	Evidence   []Evidence `json:"evidence"`
	Overridden bool       `json:"overridden"`
}

// Evidence is one contributing detection signal.
type Evidence struct {
	Type  string  `json:"type"`
	Value string  `json:"value"`
	Score float64 `json:"score"`
}
