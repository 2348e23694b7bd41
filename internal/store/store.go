// Package store persists parsing models (with immutable versions),
// processing logs and parsed canonical documents. SQLite is the default
// backend; Postgres is used when configured.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-parser/internal/config"
	"github.com/sells-group/order-parser/internal/model"
)

// Log list limits.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 200
)

// LogFilter specifies criteria for listing processing logs. Filename and
// CompanyName match substrings.
type LogFilter struct {
	Status      string     `json:"status,omitempty"`
	ModelName   string     `json:"model_name,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
	From        *time.Time `json:"date_from,omitempty"`
	To          *time.Time `json:"date_to,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}

// EffectiveLimit clamps Limit to 1..MaxLogLimit, defaulting to DefaultLogLimit.
func (f LogFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLogLimit
	case f.Limit > MaxLogLimit:
		return MaxLogLimit
	}
	return f.Limit
}

func (f LogFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

// ModelInput creates a model and its first version.
type ModelInput struct {
	Name           string               `json:"name"`
	DisplayName    string               `json:"display_name,omitempty"`
	DetectionRules model.DetectionRules `json:"detection_rules"`
	MappingConfig  model.MappingConfig  `json:"mapping_config"`
	Examples       []string             `json:"examples,omitempty"`
	CreatedBy      string               `json:"created_by,omitempty"`
}

// ModelUpdate changes a model. Nil fields are left alone. When rules,
// mapping or examples are given a new version is created; the ones left
// empty are carried over from the current version.
type ModelUpdate struct {
	DisplayName    *string               `json:"display_name,omitempty"`
	Active         *bool                 `json:"active,omitempty"`
	DetectionRules *model.DetectionRules `json:"detection_rules,omitempty"`
	MappingConfig  *model.MappingConfig  `json:"mapping_config,omitempty"`
	Examples       []string              `json:"examples,omitempty"`
	UpdatedBy      string                `json:"updated_by,omitempty"`
}

func (u ModelUpdate) changesVersion() bool {
	return u.DetectionRules != nil || u.MappingConfig != nil || u.Examples != nil
}

// VersionInput is the content of a new model version.
type VersionInput struct {
	DetectionRules model.DetectionRules `json:"detection_rules"`
	MappingConfig  model.MappingConfig  `json:"mapping_config"`
	Examples       []string             `json:"examples,omitempty"`
	CreatedBy      string               `json:"created_by,omitempty"`
}

// ModelStore manages parsing models. Lookups of unknown names return nil
// without an error.
type ModelStore interface {
	ListModels(ctx context.Context) ([]model.ParserModel, error)
	GetModel(ctx context.Context, name string) (*model.ParserModel, error)
	CreateModel(ctx context.Context, in ModelInput) (*model.ParserModel, error)
	UpdateModel(ctx context.Context, name string, upd ModelUpdate) (*model.ParserModel, error)
	AddVersion(ctx context.Context, name string, in VersionInput) (*model.ParserModel, error)
	SetActive(ctx context.Context, name string, active bool) (*model.ParserModel, error)
	ListVersions(ctx context.Context, name string) ([]model.ParserModelVersion, error)
}

// LogStore manages processing logs.
type LogStore interface {
	CreateLog(ctx context.Context, l *model.ProcessingLog) error
	UpdateLog(ctx context.Context, id string, upd model.LogUpdate) error
	GetLog(ctx context.Context, id string) (*model.ProcessingLog, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]model.ProcessingLog, error)
}

// DocumentStore manages parsed canonical documents.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *model.ParsedDocument) error
	GetDocument(ctx context.Context, documentID string) (*model.ParsedDocument, error)
	FindDocumentByHash(ctx context.Context, hash string) (*model.ParsedDocument, error)
}

// Store defines the persistence interface for the order parser.
type Store interface {
	ModelStore
	LogStore
	DocumentStore

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// nextVersion increments a "v<n>" label. Labels that are not numeric give
// way to a timestamp label.
func nextVersion(latest string, now time.Time) string {
	if latest == "" {
		return "v1"
	}
	n, err := strconv.Atoi(strings.TrimLeft(latest, "v"))
	if err != nil {
		return "v" + strconv.FormatInt(now.Unix(), 10)
	}
	return "v" + strconv.Itoa(n+1)
}

// carryOver resolves the content of the version an update creates.
func carryOver(cur *model.ParserModelVersion, upd ModelUpdate) VersionInput {
	in := VersionInput{CreatedBy: upd.UpdatedBy}
	if cur != nil {
		in.DetectionRules = cur.DetectionRules
		in.MappingConfig = cur.MappingConfig
		in.Examples = cur.Examples
	}
	if upd.DetectionRules != nil && !upd.DetectionRules.Empty() {
		in.DetectionRules = *upd.DetectionRules
	}
	if upd.MappingConfig != nil && !upd.MappingConfig.Empty() {
		in.MappingConfig = *upd.MappingConfig
	}
	if len(upd.Examples) > 0 {
		in.Examples = upd.Examples
	}
	return in
}

type ruleRow struct {
	ruleType string
	value    string
	weight   float64
}

// ruleRows flattens detection rules into one row per configured value.
func ruleRows(r model.DetectionRules) []ruleRow {
	var rows []ruleRow
	add := func(kind string, values []string) {
		for _, v := range values {
			rows = append(rows, ruleRow{ruleType: kind, value: v, weight: 1})
		}
	}
	add("keywords", r.Keywords)
	add("customer_names", r.CustomerNames)
	add("customer_cnpjs", r.CustomerCNPJs)
	add("header_regex", r.HeaderRegex)
	add("required_fields", r.RequiredFields)
	if r.ParserKey != "" {
		add("parser_key", []string{r.ParserKey})
	}
	if r.NormalizerKey != "" {
		add("normalizer_key", []string{r.NormalizerKey})
	}
	if r.Fallback {
		rows = append(rows, ruleRow{ruleType: "fallback", value: "true"})
	}
	return rows
}

// mappingRows lists fields then item fields, skipping incomplete entries.
func mappingRows(m model.MappingConfig) []model.FieldMapping {
	var rows []model.FieldMapping
	for _, group := range [][]model.FieldMapping{m.Fields, m.ItemFields} {
		for _, fm := range group {
			if fm.Source != "" && fm.Target != "" {
				rows = append(rows, fm)
			}
		}
	}
	return rows
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
