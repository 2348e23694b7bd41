// Package parser turns a parse context into a draft order. Each model names
// its parser by key; the registry maps keys to implementations.
package parser

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/llm"
	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/model"
)

// Parser produces a draft from a parse context.
type Parser interface {
	Parse(ctx context.Context, pc *model.ParseContext) (*model.ParseOutput, error)
}

// Deps are the collaborators shared by the built-in parsers.
type Deps struct {
	// LLM may be nil; the generic workflow then reports an extraction failure.
	LLM      llm.Extractor
	Tables   *mapping.Tables
	Identity *company.Identity
	// Version overrides the parser_version each parser reports.
	Version string
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Tables == nil {
		d.Tables = mapping.Defaults()
	}
	if d.Identity == nil {
		d.Identity = company.DefaultIdentity()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Factory builds a parser.
type Factory func(Deps) Parser

// Registry resolves parser keys.
type Registry struct {
	deps Deps

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in parsers registered.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{deps: deps.withDefaults(), factories: make(map[string]Factory)}
	r.Register(model.ParserLegacyWorkflow, func(d Deps) Parser { return NewGeneric(d) })
	r.Register(model.ParserLAR, func(d Deps) Parser { return NewLAR(d) })
	r.Register(model.ParserBRF, func(d Deps) Parser { return NewBRF(d) })
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = f
}

// Get builds the parser registered under key.
func (r *Registry) Get(key string) (Parser, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Errorf("parser: unknown parser key %q", key)
	}
	return f(r.deps), nil
}

// Keys lists the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func baseMetadata(pc *model.ParseContext, version string, now time.Time) model.ParseMetadata {
	return model.ParseMetadata{
		Engine:        "legacy",
		InputType:     pc.Input.InputType,
		SourceName:    pc.Input.SourceName,
		HashSHA256:    pc.Input.Hash(),
		IngestedAt:    now.UTC().Format("2006-01-02T15:04:05.000000Z"),
		ParserVersion: version,
	}
}

// attribute stamps the partner model on output produced by another parser.
func attribute(md *model.ParseMetadata, modelName string) {
	md.ModelName = modelName
	if md.DetectedBy == "" {
		md.DetectedBy = string(model.DetectedByRule)
	}
}

func versionOr(override, def string) string {
	if override != "" {
		return override
	}
	return def
}
