package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/llm"
	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/normalize"
	"github.com/sells-group/order-parser/internal/ocr"
	"github.com/sells-group/order-parser/internal/parser"
	"github.com/sells-group/order-parser/internal/pipeline"
	"github.com/sells-group/order-parser/internal/registry"
	"github.com/sells-group/order-parser/internal/store"
	"github.com/sells-group/order-parser/pkg/anthropic"
)

// pipelineEnv holds the store, registries and runner needed by the parse,
// batch, serve and worker commands.
type pipelineEnv struct {
	Store  store.Store
	Models *registry.Composite
	Runner *pipeline.Runner
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode, opens the store and builds the
// runner. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	pc := cfg.Pipeline
	identity := company.LoadIdentity(pc.CompanyPath)
	tables := mapping.Load(pc.MappingsPath)

	// YAML models come first; a database model with the same id is ignored.
	models := registry.NewComposite(registry.LoadFile(pc.ModelsPath), registry.NewStore(st))

	var extractor llm.Extractor
	if cfg.Anthropic.Key != "" {
		extractor = llm.NewClaude(anthropic.NewClient(cfg.Anthropic.Key), identity, llm.ClaudeConfig{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
		})
	} else {
		zap.L().Warn("ORDER_ANTHROPIC_KEY not set, generic extraction disabled")
	}

	audit, err := pipeline.NewAuditLogger(pc.AuditLogPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "open audit log")
	}

	runner := pipeline.New(pipeline.Deps{
		Models: models,
		Parsers: parser.NewRegistry(parser.Deps{
			LLM:      extractor,
			Tables:   tables,
			Identity: identity,
			Version:  pc.ParserVersion,
		}),
		Normalizers: normalize.NewRegistry(normalize.Deps{
			Tables:   tables,
			Validate: pc.ValidateSchema,
		}),
		Records:  st,
		Audit:    audit,
		Text:     ocr.NewChain(cfg.OCR),
		Identity: identity,
		Config:   pc,
	})

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("models_path", pc.ModelsPath),
		zap.Float64("confidence_threshold", runner.Threshold()),
	)

	return &pipelineEnv{Store: st, Models: models, Runner: runner}, nil
}
