package model

import "time"

// ParserModel is a persisted model with its current version.
type ParserModel struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	DisplayName    string              `json:"display_name"`
	Active         bool                `json:"active"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	CurrentVersion *ParserModelVersion `json:"current_version,omitempty"`
}

// ParserModelVersion is an immutable snapshot of a model's rules and mappings.
type ParserModelVersion struct {
	ID             string         `json:"id"`
	ModelID        string         `json:"model_id"`
	Version        string         `json:"version"`
	DetectionRules DetectionRules `json:"detection_rules"`
	MappingConfig  MappingConfig  `json:"mapping_config"`
	Examples       []string       `json:"examples,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CreatedBy      string         `json:"created_by,omitempty"`
}

// Processing log statuses.
const (
	LogStatusPartial = "partial"
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
)

// ProcessingLog is the audit row written for every pipeline run.
type ProcessingLog struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id"`
	Filename        string         `json:"filename,omitempty"`
	HashSHA256      string         `json:"hash_sha256,omitempty"`
	CompanyName     string         `json:"company_name,omitempty"`
	ModelName       string         `json:"model_name,omitempty"`
	ModelConfidence *float64       `json:"model_confidence,omitempty"`
	ParserVersion   string         `json:"parser_version,omitempty"`
	Status          string         `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	DurationMS      *int64         `json:"duration_ms,omitempty"`
	WarningsCount   int            `json:"warnings_count"`
	ErrorsCount     int            `json:"errors_count"`
	ErrorSummary    string         `json:"error_summary,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	TriggeredBy     string         `json:"triggered_by,omitempty"`
	RawMetadata     map[string]any `json:"raw_metadata,omitempty"`
}

// LogUpdate changes only the non-nil fields of a processing log.
type LogUpdate struct {
	Status          *string
	FinishedAt      *time.Time
	DurationMS      *int64
	WarningsCount   *int
	ErrorsCount     *int
	ErrorSummary    *string
	ModelName       *string
	ModelConfidence *float64
	ParserVersion   *string
	DocumentID      *string
	CompanyName     *string
	RawMetadata     map[string]any
}

// ParsedDocument is the stored canonical result of a document.
type ParsedDocument struct {
	DocumentID      string    `json:"document_id"`
	Filename        string    `json:"filename,omitempty"`
	HashSHA256      string    `json:"hash_sha256,omitempty"`
	SchemaVersion   string    `json:"schema_version,omitempty"`
	ParserVersion   string    `json:"parser_version,omitempty"`
	Status          string    `json:"status,omitempty"`
	ModelName       string    `json:"model_name,omitempty"`
	ModelConfidence *float64  `json:"model_confidence,omitempty"`
	Warnings        []string  `json:"warnings"`
	MissingFields   []string  `json:"missing_fields"`
	Canonical       []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
