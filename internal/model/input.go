package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sells-group/order-parser/internal/extract"
)

// InputType is the kind of payload submitted for parsing.
type InputType string

const (
	InputPDF  InputType = "pdf"
	InputText InputType = "text"
)

// ParseInput describes one parse request. It is not modified after creation.
type ParseInput struct {
	InputType     InputType `json:"input_type"`
	Raw           []byte    `json:"raw"`
	SourceName    string    `json:"source_name,omitempty"`
	ModelOverride string    `json:"model_override,omitempty"`
	DocumentID    string    `json:"document_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	TriggeredBy   string    `json:"triggered_by,omitempty"`
}

// Hash returns the hex SHA-256 of the raw payload.
func (in ParseInput) Hash() string {
	sum := sha256.Sum256(in.Raw)
	return hex.EncodeToString(sum[:])
}

// MimeType maps the input type to a content type.
func (in ParseInput) MimeType() string {
	if in.InputType == InputPDF {
		return "application/pdf"
	}
	return "text/plain"
}

// ParseContext is the evidence bundle shared by the detector and the parsers.
type ParseContext struct {
	Input   ParseInput
	RawText string
	Data    *extract.Result
}
