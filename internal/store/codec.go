package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/order-parser/internal/model"
)

func encodeVersion(in VersionInput) (rules, mapping, examples []byte, err error) {
	if rules, err = json.Marshal(in.DetectionRules); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal detection rules")
	}
	if mapping, err = json.Marshal(in.MappingConfig); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal mapping config")
	}
	if examples, err = json.Marshal(nonNilStrings(in.Examples)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal examples")
	}
	return rules, mapping, examples, nil
}

func decodeVersion(v *model.ParserModelVersion, rules, mapping, examples []byte) error {
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &v.DetectionRules); err != nil {
			return eris.Wrapf(err, "store: unmarshal detection rules of version %s", v.ID)
		}
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &v.MappingConfig); err != nil {
			return eris.Wrapf(err, "store: unmarshal mapping config of version %s", v.ID)
		}
	}
	if len(examples) > 0 {
		if err := json.Unmarshal(examples, &v.Examples); err != nil {
			return eris.Wrapf(err, "store: unmarshal examples of version %s", v.ID)
		}
	}
	return nil
}

func encodeDocument(d *model.ParsedDocument) (warnings, missing, canonical []byte, err error) {
	if d.DocumentID == "" {
		return nil, nil, nil, eris.New("store: document id is required")
	}
	if warnings, err = json.Marshal(nonNilStrings(d.Warnings)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal warnings")
	}
	if missing, err = json.Marshal(nonNilStrings(d.MissingFields)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal missing fields")
	}
	canonical = d.Canonical
	if len(canonical) == 0 {
		canonical = []byte("{}")
	}
	return warnings, missing, canonical, nil
}

func decodeDocument(d *model.ParsedDocument, warnings, missing []byte) error {
	if err := json.Unmarshal(warnings, &d.Warnings); err != nil {
		return eris.Wrapf(err, "store: unmarshal warnings of %s", d.DocumentID)
	}
	if err := json.Unmarshal(missing, &d.MissingFields); err != nil {
		return eris.Wrapf(err, "store: unmarshal missing fields of %s", d.DocumentID)
	}
	d.Warnings = nonNilStrings(d.Warnings)
	d.MissingFields = nonNilStrings(d.MissingFields)
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// bindFunc renders the placeholder for the n-th (1-based) argument.
type bindFunc func(n int) string

func sqliteBind(int) string { return "?" }

// logUpdateSet builds the SET clauses of a log update. Only non-nil
// fields are included.
func logUpdateSet(upd model.LogUpdate, bind bindFunc, timeArg func(time.Time) any, jsonArg func([]byte) any) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+bind(len(args)))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.FinishedAt != nil {
		add("finished_at", timeArg(*upd.FinishedAt))
	}
	if upd.DurationMS != nil {
		add("duration_ms", *upd.DurationMS)
	}
	if upd.WarningsCount != nil {
		add("warnings_count", *upd.WarningsCount)
	}
	if upd.ErrorsCount != nil {
		add("errors_count", *upd.ErrorsCount)
	}
	if upd.ErrorSummary != nil {
		add("error_summary", *upd.ErrorSummary)
	}
	if upd.ModelName != nil {
		add("model_name", *upd.ModelName)
	}
	if upd.ModelConfidence != nil {
		add("model_confidence", *upd.ModelConfidence)
	}
	if upd.ParserVersion != nil {
		add("parser_version", *upd.ParserVersion)
	}
	if upd.DocumentID != nil {
		add("document_id", *upd.DocumentID)
	}
	if upd.CompanyName != nil {
		add("company_name", *upd.CompanyName)
	}
	if upd.RawMetadata != nil {
		meta, err := json.Marshal(upd.RawMetadata)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal log metadata")
		}
		add("raw_metadata", jsonArg(meta))
	}
	return sets, args, nil
}

// logWhere builds the WHERE clause of a log listing.
func logWhere(f LogFilter, bind bindFunc, timeArg func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", bind(len(args)), 1))
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.ModelName != "" {
		add("model_name = ?", f.ModelName)
	}
	if f.Filename != "" {
		add("filename LIKE ?", "%"+f.Filename+"%")
	}
	if f.CompanyName != "" {
		add("company_name LIKE ?", "%"+f.CompanyName+"%")
	}
	if f.From != nil {
		add("started_at >= ?", timeArg(*f.From))
	}
	if f.To != nil {
		add("started_at <= ?", timeArg(*f.To))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal json")
}

func unmarshalJSON(b []byte, v any) error {
	return eris.Wrap(json.Unmarshal(b, v), "store: unmarshal json")
}
