package normalize

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/order-parser/internal/model"
)

//go:embed canonical.schema.json
var canonicalSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("canonical.schema.json", bytes.NewReader(canonicalSchema)); err != nil {
			schemaErr = eris.Wrap(err, "normalize: add schema")
			return
		}
		schema, schemaErr = compiler.Compile("canonical.schema.json")
		if schemaErr != nil {
			schemaErr = eris.Wrap(schemaErr, "normalize: compile schema")
		}
	})
	return schema, schemaErr
}

// Violations validates doc against the canonical JSON Schema and returns one
// message per failing leaf, sorted. A nil slice means the document conforms.
func Violations(doc *model.Canonical) ([]string, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: marshal canonical")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, eris.Wrap(err, "normalize: decode canonical")
	}

	err = s.Validate(v)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, eris.Wrap(err, "normalize: validate canonical")
	}
	var out []string
	collectLeaves(verr, &out)
	sort.Strings(out)
	return out, nil
}

func collectLeaves(e *jsonschema.ValidationError, out *[]string) {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, fmt.Sprintf("schema: %s: %s", loc, e.Message))
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}
