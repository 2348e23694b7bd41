package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/model"
)

// DetectionResult is the detector's answer as exposed to API clients.
type DetectionResult struct {
	ModelName  string           `json:"model_name"`
	Confidence float64          `json:"confidence"`
	Reasons    []string         `json:"reasons"`
	Evidence   []model.Evidence `json:"evidence"`
}

// Preview is a dry run used to onboard a new partner: what the detector
// picks, what a generic parse looks like and a suggested model name.
type Preview struct {
	Detected             DetectionResult  `json:"detected"`
	SuggestedModelName   string           `json:"suggested_model_name"`
	SuggestedDisplayName string           `json:"suggested_display_name,omitempty"`
	SuggestedConfidence  float64          `json:"suggested_confidence"`
	Preview              *model.Canonical `json:"preview"`
	NeedsConfiguration   bool             `json:"needs_configuration"`
}

// Detect runs the detector over the usable models without parsing or
// persisting anything.
func (r *Runner) Detect(ctx context.Context, in model.ParseInput) (DetectionResult, error) {
	pc := r.buildContext(ctx, in)
	det, err := r.detect(ctx, pc)
	if err != nil {
		return DetectionResult{}, err
	}
	return toResult(det), nil
}

func (r *Runner) detect(ctx context.Context, pc *model.ParseContext) (model.Detection, error) {
	models, err := r.usableModels(ctx)
	if err != nil {
		return model.Detection{}, err
	}
	return r.detector.Detect(pc, models), nil
}

// Preview parses with the generic workflow and the canonical normalizer,
// detects the model and suggests a name for a new one. Nothing is stored.
func (r *Runner) Preview(ctx context.Context, in model.ParseInput) (*Preview, error) {
	pc := r.buildContext(ctx, in)
	det, err := r.detect(ctx, pc)
	if err != nil {
		return nil, err
	}

	p, err := r.parsers.Get(model.ParserLegacyWorkflow)
	if err != nil {
		return nil, err
	}
	parsed, err := p.Parse(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: preview parse")
	}
	n, err := r.normalizers.Get(model.NormalizerCanonicalV1)
	if err != nil {
		return nil, err
	}
	out, err := n.Normalize(parsed)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: preview normalize")
	}

	guess := company.GuessName(pc.RawText)
	return &Preview{
		Detected:             toResult(det),
		SuggestedModelName:   company.SuggestModelName(guess.Name, r.now()),
		SuggestedDisplayName: guess.Name,
		SuggestedConfidence:  guess.Confidence,
		Preview:              out.Canonical,
		NeedsConfiguration:   det.Confidence < r.threshold,
	}, nil
}

// Threshold is the confidence below which detections fall back.
func (r *Runner) Threshold() float64 { return r.threshold }

func toResult(det model.Detection) DetectionResult {
	res := DetectionResult{
		ModelName:  det.ModelID,
		Confidence: det.Confidence,
		Reasons:    det.Reasons,
		Evidence:   det.Evidence,
	}
	if res.Reasons == nil {
		res.Reasons = []string{}
	}
	if res.Evidence == nil {
		res.Evidence = []model.Evidence{}
	}
	return res
}
