// Package pipeline runs a document through detection, parsing and
// normalization, and keeps the processing log, parsed document and audit
// trail for every run.
package pipeline

import (
	"context"
	"encoding/json"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/config"
	"github.com/sells-group/order-parser/internal/detect"
	"github.com/sells-group/order-parser/internal/extract"
	"github.com/sells-group/order-parser/internal/model"
	"github.com/sells-group/order-parser/internal/normalize"
	"github.com/sells-group/order-parser/internal/parser"
	"github.com/sells-group/order-parser/internal/registry"
)

// Routing reasons and warnings added by the runner.
const (
	ReasonLowConfidence = "fallback:low_confidence"
	WarnLowConfidence   = "Model confidence below threshold; using generic fallback"

	defaultVersion = "legacy"

	maxErrorSummary = 200
	maxTrace        = 4000
)

// Records is the persistence the runner writes to.
type Records interface {
	CreateLog(ctx context.Context, l *model.ProcessingLog) error
	UpdateLog(ctx context.Context, id string, upd model.LogUpdate) error
	UpsertDocument(ctx context.Context, doc *model.ParsedDocument) error
	FindDocumentByHash(ctx context.Context, hash string) (*model.ParsedDocument, error)
}

// TextExtractor turns PDF bytes into text. It never fails; unreadable
// documents give an empty string.
type TextExtractor interface {
	Text(ctx context.Context, pdf []byte) string
}

// Deps are the runner's collaborators. Detector, Audit, Identity, Now and
// NewID have defaults; Models, Parsers and Normalizers are required.
type Deps struct {
	Detector    detect.Detector
	Models      registry.Registry
	Parsers     *parser.Registry
	Normalizers *normalize.Registry
	Records     Records
	Audit       AuditLogger
	Text        TextExtractor
	Identity    *company.Identity
	Config      config.PipelineConfig
	Now         func() time.Time
	NewID       func() string
}

// Runner executes the parse pipeline. It holds no per-request state and is
// safe for concurrent use.
type Runner struct {
	detector    detect.Detector
	models      registry.Registry
	parsers     *parser.Registry
	normalizers *normalize.Registry
	records     Records
	audit       AuditLogger
	text        TextExtractor
	identity    *company.Identity

	threshold     float64
	fallbackID    string
	parserVersion string

	now   func() time.Time
	newID func() string
}

// New builds a Runner.
func New(d Deps) *Runner {
	r := &Runner{
		detector:      d.Detector,
		models:        d.Models,
		parsers:       d.Parsers,
		normalizers:   d.Normalizers,
		records:       d.Records,
		audit:         d.Audit,
		text:          d.Text,
		identity:      d.Identity,
		threshold:     d.Config.ConfidenceThreshold,
		fallbackID:    d.Config.FallbackModel,
		parserVersion: d.Config.ParserVersion,
		now:           d.Now,
		newID:         d.NewID,
	}
	if r.detector == nil {
		r.detector = detect.NewRuleDetector()
	}
	if r.audit == nil {
		r.audit = NoopAudit{}
	}
	if r.identity == nil {
		r.identity = company.DefaultIdentity()
	}
	if r.fallbackID == "" {
		r.fallbackID = model.GenericModelID
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// run carries the routing state of one document.
type run struct {
	in        model.ParseInput
	hash      string
	pc        *model.ParseContext
	detection model.Detection
	def       model.Definition
	guess     company.Guess
	logID     string
	started   time.Time
}

// Run parses one document and returns the normalized output. Infrastructure
// and parser errors are returned after the failure has been recorded.
func (r *Runner) Run(ctx context.Context, in model.ParseInput) (*model.Output, error) {
	started := r.now()
	if in.DocumentID == "" {
		in.DocumentID = r.newID()
	}
	if in.CorrelationID == "" {
		in.CorrelationID = r.newID()
	}

	rn := &run{in: in, hash: in.Hash(), started: started}
	rn.pc = r.buildContext(ctx, in)

	models, err := r.usableModels(ctx)
	if err != nil {
		return nil, err
	}
	override, err := r.override(ctx, in.ModelOverride)
	if err != nil {
		return nil, err
	}
	if override != nil {
		rn.detection = overrideDetection(override, in.ModelOverride)
	} else {
		rn.detection = r.detector.Detect(rn.pc, models)
	}

	def, err := resolveModel(models, rn.detection.ModelID, override)
	if err != nil {
		return nil, err
	}
	rn.detection, rn.def = r.applyFallback(models, rn.detection, def)
	rn.guess = company.GuessName(rn.pc.RawText)

	log := zap.L().With(
		zap.String("document_id", in.DocumentID),
		zap.String("correlation_id", in.CorrelationID),
		zap.String("model", rn.def.ID),
		zap.Float64("confidence", rn.detection.Confidence),
	)

	if err := r.createLog(ctx, rn); err != nil {
		return nil, err
	}

	out, err := r.safeExecute(ctx, rn, log)
	if err != nil {
		log.Error("pipeline: run failed", zap.Error(err))
		r.fail(ctx, rn, err)
		return nil, err
	}
	return out, nil
}

// safeExecute turns a panic in a parser or normalizer into an error so the
// run is still recorded as failed.
func (r *Runner) safeExecute(ctx context.Context, rn *run, log *zap.Logger) (out *model.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = eris.Errorf("pipeline: panic in %s/%s: %v", rn.def.ParserKey, rn.def.NormalizerKey, p)
		}
	}()
	return r.execute(ctx, rn, log)
}

func (r *Runner) execute(ctx context.Context, rn *run, log *zap.Logger) (*model.Output, error) {
	p, err := r.parsers.Get(rn.def.ParserKey)
	if err != nil {
		return nil, err
	}
	parsed, err := p.Parse(ctx, rn.pc)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse with %s", rn.def.ParserKey)
	}
	if parsed == nil {
		return nil, eris.Errorf("pipeline: parser %s returned no output", rn.def.ParserKey)
	}
	r.fillMetadata(&parsed.Metadata, rn)

	n, err := r.normalizers.Get(rn.def.NormalizerKey)
	if err != nil {
		return nil, err
	}
	out, err := n.Normalize(parsed)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: normalize with %s", rn.def.NormalizerKey)
	}
	out.ModelID = rn.def.ID
	r.attribute(out, rn.detection)

	meta := detectorMetadata(rn.detection)
	if prev := r.previousDocument(ctx, rn); prev != "" {
		meta["previous_document_id"] = prev
	}
	if err := r.saveDocument(ctx, rn, out); err != nil {
		return nil, err
	}

	auditMeta := detectorMetadata(rn.detection)
	auditMeta["detector_confidence"] = rn.detection.Confidence
	auditMeta["parser_key"] = rn.def.ParserKey
	auditMeta["normalizer_key"] = rn.def.NormalizerKey
	auditMeta["model_version"] = rn.def.Version
	auditMeta["model_status"] = string(rn.def.Status)
	auditMeta["correlation_id"] = rn.in.CorrelationID
	auditMeta["document_id"] = rn.in.DocumentID
	if err := r.audit.Log(AuditRecord{
		Timestamp:    r.now().UTC().Format(time.RFC3339Nano),
		ModelID:      rn.def.ID,
		DocumentType: out.DocumentType,
		InputType:    string(rn.in.InputType),
		SourceName:   rn.in.SourceName,
		Warnings:     out.Warnings,
		Metadata:     auditMeta,
	}); err != nil {
		log.Warn("pipeline: audit record failed", zap.Error(err))
	}

	log.Info("pipeline: model selected",
		zap.String("parser", rn.def.ParserKey),
		zap.String("normalizer", rn.def.NormalizerKey),
		zap.Bool("overridden", rn.detection.Overridden),
	)

	status := string(out.Status())
	if status == "" {
		status = model.LogStatusPartial
	}
	meta["model_version"] = rn.def.Version
	meta["model_status"] = string(rn.def.Status)
	meta["correlation_id"] = rn.in.CorrelationID
	meta["document_id"] = rn.in.DocumentID

	finished := r.now()
	r.updateLog(ctx, rn, model.LogUpdate{
		Status:          &status,
		FinishedAt:      &finished,
		DurationMS:      ptr(finished.Sub(rn.started).Milliseconds()),
		WarningsCount:   ptr(len(out.Warnings)),
		ErrorsCount:     ptr(0),
		ModelName:       ptr(rn.def.ID),
		ModelConfidence: ptr(rn.detection.Confidence),
		ParserVersion:   ptr(parsed.Metadata.ParserVersion),
		DocumentID:      ptr(rn.in.DocumentID),
		CompanyName:     ptr(rn.guess.Name),
		RawMetadata:     meta,
	})
	return out, nil
}

// fail records a failed canonical document and marks the log failed. Both
// writes are best effort.
func (r *Runner) fail(ctx context.Context, rn *run, cause error) {
	if r.records == nil {
		return
	}
	if doc := r.failedCanonical(rn, cause); doc != nil {
		payload, err := json.Marshal(doc)
		if err == nil {
			conf := rn.detection.Confidence
			err = r.records.UpsertDocument(ctx, &model.ParsedDocument{
				DocumentID:      rn.in.DocumentID,
				Filename:        rn.in.SourceName,
				HashSHA256:      rn.hash,
				SchemaVersion:   doc.SchemaVersion,
				ParserVersion:   r.versionLabel(),
				Status:          string(model.StatusFailed),
				ModelName:       rn.def.ID,
				ModelConfidence: &conf,
				Warnings:        doc.Parsing.Warnings,
				MissingFields:   doc.Parsing.MissingFields,
				Canonical:       payload,
			})
		}
		if err != nil {
			zap.L().Warn("pipeline: failed document not saved",
				zap.String("document_id", rn.in.DocumentID), zap.Error(err))
		}
	}

	finished := r.now()
	r.updateLog(ctx, rn, model.LogUpdate{
		Status:          ptr(model.LogStatusFailed),
		FinishedAt:      &finished,
		DurationMS:      ptr(finished.Sub(rn.started).Milliseconds()),
		WarningsCount:   ptr(0),
		ErrorsCount:     ptr(1),
		ErrorSummary:    ptr(truncate(cause.Error(), maxErrorSummary)),
		ModelName:       ptr(rn.def.ID),
		ModelConfidence: ptr(rn.detection.Confidence),
		ParserVersion:   ptr(r.versionLabel()),
		DocumentID:      ptr(rn.in.DocumentID),
		CompanyName:     ptr(rn.guess.Name),
		RawMetadata: map[string]any{
			"trace":          truncate(eris.ToString(cause, true), maxTrace),
			"correlation_id": rn.in.CorrelationID,
			"document_id":    rn.in.DocumentID,
		},
	})
}

// failedCanonical renders an empty canonical document carrying the error.
func (r *Runner) failedCanonical(rn *run, cause error) *model.Canonical {
	n, err := r.normalizers.Get(model.NormalizerCanonicalV1)
	if err != nil {
		return nil
	}
	conf := rn.detection.Confidence
	out, err := n.Normalize(&model.ParseOutput{
		Warnings:     []string{cause.Error()},
		DocumentType: string(model.DocumentUnknown),
		Metadata: model.ParseMetadata{
			InputType:     rn.in.InputType,
			SourceName:    rn.in.SourceName,
			HashSHA256:    rn.hash,
			ParserVersion: r.versionLabel(),
			ModelName:     rn.def.ID,
			DetectedBy:    string(model.DetectedByRule),
			Confidence:    &conf,
			DocumentID:    rn.in.DocumentID,
		},
	})
	if err != nil {
		return nil
	}
	return out.Canonical
}

func (r *Runner) buildContext(ctx context.Context, in model.ParseInput) *model.ParseContext {
	var text string
	switch {
	case in.InputType == model.InputPDF && r.text != nil:
		text = r.text.Text(ctx, in.Raw)
	case in.InputType != model.InputPDF:
		text = string(in.Raw)
	}
	data := extract.Extract(text)
	data.MarkCustomers(r.identity)
	return &model.ParseContext{Input: in, RawText: text, Data: data}
}

func (r *Runner) usableModels(ctx context.Context) ([]model.Definition, error) {
	all, err := r.models.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list models")
	}
	usable := make([]model.Definition, 0, len(all))
	for _, m := range all {
		if m.Usable() {
			usable = append(usable, m)
		}
	}
	return usable, nil
}

// override looks up a manually requested model. Unknown names give nil so
// detection runs as usual.
func (r *Runner) override(ctx context.Context, name string) (*model.Definition, error) {
	if name == "" {
		return nil, nil
	}
	def, err := r.models.GetByName(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: look up override %s", name)
	}
	if def == nil {
		zap.L().Info("pipeline: unknown model override, detecting", zap.String("override", name))
	}
	return def, nil
}

func overrideDetection(def *model.Definition, name string) model.Detection {
	return model.Detection{
		ModelID:    def.ID,
		Confidence: 1.0,
		Reasons:    []string{"override:" + name},
		Evidence:   []model.Evidence{{Type: "override", Value: name, Score: 1.0}},
		Overridden: true,
	}
}

// resolveModel finds id among the usable models, then falls back to the
// override definition and finally to the first usable model.
func resolveModel(models []model.Definition, id string, override *model.Definition) (model.Definition, error) {
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	if override != nil && override.ID == id {
		return *override, nil
	}
	if len(models) > 0 {
		return models[0], nil
	}
	return model.Definition{}, eris.New("pipeline: no models registered")
}

// applyFallback reroutes low-confidence detections to the fallback model,
// keeping the detected confidence.
func (r *Runner) applyFallback(models []model.Definition, det model.Detection, def model.Definition) (model.Detection, model.Definition) {
	if det.Overridden || det.Confidence >= r.threshold {
		return det, def
	}
	fb, err := resolveModel(models, r.fallbackID, nil)
	if err != nil || fb.ID == def.ID {
		return det, def
	}
	rerouted := model.Detection{
		ModelID:    fb.ID,
		Confidence: det.Confidence,
		Reasons:    append(append([]string{}, det.Reasons...), ReasonLowConfidence),
		Evidence:   append(append([]model.Evidence{}, det.Evidence...), model.Evidence{Type: "fallback", Value: fb.ID}),
	}
	return rerouted, fb
}

func (r *Runner) fillMetadata(md *model.ParseMetadata, rn *run) {
	if md.Mapping == nil {
		mapping := rn.def.Mapping
		md.Mapping = &mapping
	}
	if md.ModelName == "" {
		md.ModelName = rn.def.ID
	}
	if md.DocumentID == "" {
		md.DocumentID = rn.in.DocumentID
	}
	if md.CorrelationID == "" {
		md.CorrelationID = rn.in.CorrelationID
	}
	if md.TriggeredBy == "" {
		md.TriggeredBy = rn.in.TriggeredBy
	}
	switch {
	case rn.detection.Overridden:
		md.DetectedBy = string(model.DetectedByManual)
	case md.DetectedBy == "":
		md.DetectedBy = string(model.DetectedByRule)
	}
	if r.parserVersion != "" {
		md.ParserVersion = r.parserVersion
	}
	if md.ParserVersion == "" {
		md.ParserVersion = defaultVersion
	}
}

// attribute stamps the routing decision on the canonical document and adds
// the low-confidence warning.
func (r *Runner) attribute(out *model.Output, det model.Detection) {
	low := slices.Contains(det.Reasons, ReasonLowConfidence)
	doc := out.Canonical
	if doc == nil {
		if low {
			out.Warnings = append(out.Warnings, WarnLowConfidence)
		}
		return
	}

	info := &doc.Document.Model
	if info.Name == "" || info.Name == detect.UnknownModelID {
		info.Name = out.ModelID
	}
	switch {
	case det.Overridden:
		info.DetectedBy = model.DetectedByManual
	case info.DetectedBy == "" || info.DetectedBy == model.DetectedByUnknown:
		info.DetectedBy = model.DetectedByRule
	}
	info.Confidence = det.Confidence
	if doc.Parsing.Confidence == nil {
		conf := det.Confidence
		doc.Parsing.Confidence = &conf
	}
	if low {
		doc.Parsing.Status = model.StatusPartial
		doc.Parsing.Warnings = append(doc.Parsing.Warnings, WarnLowConfidence)
		out.Warnings = doc.Parsing.Warnings
	}
}

func (r *Runner) createLog(ctx context.Context, rn *run) error {
	if r.records == nil {
		return nil
	}
	conf := rn.detection.Confidence
	l := &model.ProcessingLog{
		ID:              r.newID(),
		DocumentID:      rn.in.DocumentID,
		Filename:        rn.in.SourceName,
		HashSHA256:      rn.hash,
		CompanyName:     rn.guess.Name,
		ModelName:       rn.def.ID,
		ModelConfidence: &conf,
		ParserVersion:   r.versionLabel(),
		Status:          model.LogStatusPartial,
		StartedAt:       rn.started.UTC(),
		CorrelationID:   rn.in.CorrelationID,
		TriggeredBy:     rn.in.TriggeredBy,
		RawMetadata:     detectorMetadata(rn.detection),
	}
	if err := r.records.CreateLog(ctx, l); err != nil {
		return eris.Wrap(err, "pipeline: create processing log")
	}
	rn.logID = l.ID
	return nil
}

func (r *Runner) updateLog(ctx context.Context, rn *run, upd model.LogUpdate) {
	if r.records == nil || rn.logID == "" {
		return
	}
	if err := r.records.UpdateLog(ctx, rn.logID, upd); err != nil {
		zap.L().Warn("pipeline: update processing log failed",
			zap.String("log_id", rn.logID), zap.Error(err))
	}
}

// previousDocument returns the id of an earlier document with the same
// payload hash, if any.
func (r *Runner) previousDocument(ctx context.Context, rn *run) string {
	if r.records == nil {
		return ""
	}
	prev, err := r.records.FindDocumentByHash(ctx, rn.hash)
	if err != nil {
		zap.L().Warn("pipeline: hash lookup failed", zap.String("hash", rn.hash), zap.Error(err))
		return ""
	}
	if prev == nil || prev.DocumentID == rn.in.DocumentID {
		return ""
	}
	return prev.DocumentID
}

func (r *Runner) saveDocument(ctx context.Context, rn *run, out *model.Output) error {
	if r.records == nil {
		return nil
	}
	payload, err := json.Marshal(out.Result())
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal canonical document")
	}
	conf := rn.detection.Confidence
	doc := &model.ParsedDocument{
		DocumentID:      rn.in.DocumentID,
		Filename:        rn.in.SourceName,
		HashSHA256:      rn.hash,
		ParserVersion:   r.versionLabel(),
		ModelName:       rn.def.ID,
		ModelConfidence: &conf,
		Warnings:        out.Warnings,
		Canonical:       payload,
	}
	if c := out.Canonical; c != nil {
		doc.SchemaVersion = c.SchemaVersion
		doc.ParserVersion = c.Parsing.ParserVersion
		doc.Status = string(c.Parsing.Status)
		doc.Warnings = c.Parsing.Warnings
		doc.MissingFields = c.Parsing.MissingFields
	}
	if err := r.records.UpsertDocument(ctx, doc); err != nil {
		return eris.Wrap(err, "pipeline: save parsed document")
	}
	return nil
}

func (r *Runner) versionLabel() string {
	if r.parserVersion != "" {
		return r.parserVersion
	}
	return defaultVersion
}

func detectorMetadata(det model.Detection) map[string]any {
	reasons := det.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	evidence := det.Evidence
	if evidence == nil {
		evidence = []model.Evidence{}
	}
	return map[string]any{
		"detector_reasons":    reasons,
		"detector_evidence":   evidence,
		"detector_overridden": det.Overridden,
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func ptr[T any](v T) *T { return &v }
