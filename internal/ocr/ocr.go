// Package ocr pulls text out of PDF payloads. Extraction never fails from
// the caller's point of view: the chain falls back stage by stage and
// returns whatever text it found.
package ocr

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/config"
)

const defaultMinChars = 50

// Extractor extracts text content from a PDF.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

type stage struct {
	name string
	ext  Extractor
}

// Chain tries each extractor in order and keeps the first result with
// more than minChars characters of trimmed text.
type Chain struct {
	stages   []stage
	minChars int
}

// NewChain builds native -> pdftotext, plus Mistral OCR when OCR is enabled
// with the mistral provider.
func NewChain(cfg config.OCRConfig) *Chain {
	c := &Chain{minChars: cfg.MinChars}
	c.Add("native", NewNative())
	c.Add("pdftotext", NewPdfToText(cfg.PdfToTextPath))
	if cfg.Enabled && cfg.Provider == "mistral" && cfg.MistralKey != "" {
		c.Add("mistral", NewMistralOCR(cfg.MistralKey, cfg.MistralModel))
	}
	return c
}

// Add appends a stage.
func (c *Chain) Add(name string, ext Extractor) {
	c.stages = append(c.stages, stage{name: name, ext: ext})
}

// Stages lists the stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.name
	}
	return names
}

// Text returns the first sufficient extraction, else the longest non-empty
// attempt, else "".
func (c *Chain) Text(ctx context.Context, pdf []byte) string {
	minChars := c.minChars
	if minChars <= 0 {
		minChars = defaultMinChars
	}

	var best string
	for _, s := range c.stages {
		if ctx.Err() != nil {
			break
		}
		text, err := s.ext.ExtractText(ctx, pdf)
		if err != nil {
			zap.L().Warn("ocr: stage failed", zap.String("stage", s.name), zap.Error(err))
			continue
		}
		trimmed := strings.TrimSpace(text)
		if len(trimmed) > minChars {
			zap.L().Debug("ocr: text extracted", zap.String("stage", s.name), zap.Int("chars", len(trimmed)))
			return text
		}
		if len(trimmed) > len(strings.TrimSpace(best)) {
			best = text
		}
	}
	zap.L().Warn("ocr: text extraction yielded minimal content", zap.Int("chars", len(strings.TrimSpace(best))))
	return best
}
