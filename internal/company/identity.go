// Package company knows the operator's own identity (so its CNPJs and names
// are never mistaken for the customer's) and guesses customer names from text.
package company

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/order-parser/internal/brazil"
)

// DefaultNames are used when no identity file is configured.
var DefaultNames = []string{"OLIGO BASICS", "OLIGO BÁSICS", "OLIGOBASICS"}

// Identity lists the operator's tax ids and trade names.
type Identity struct {
	CNPJs []string
	Names []string

	cnpjs map[string]struct{}
}

type identityFile struct {
	Identifiers struct {
		CNPJs []string `yaml:"cnpjs"`
		Names []string `yaml:"names"`
	} `yaml:"identifiers"`
}

// NewIdentity builds an identity from raw CNPJs and names.
func NewIdentity(cnpjs, names []string) *Identity {
	id := &Identity{Names: names, cnpjs: make(map[string]struct{}, len(cnpjs))}
	for _, c := range cnpjs {
		d := brazil.Digits(c)
		if d == "" {
			continue
		}
		id.CNPJs = append(id.CNPJs, d)
		id.cnpjs[d] = struct{}{}
	}
	return id
}

// DefaultIdentity has no CNPJs and the default names.
func DefaultIdentity() *Identity {
	return NewIdentity(nil, DefaultNames)
}

// LoadIdentity reads my_company.yaml. A missing file yields the defaults; an
// unreadable or malformed file is logged and also yields the defaults.
func LoadIdentity(path string) *Identity {
	id, err := ReadIdentity(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("company: identity file not found, using defaults", zap.String("path", path))
		} else {
			zap.L().Error("company: load identity failed, using defaults", zap.String("path", path), zap.Error(err))
		}
		return DefaultIdentity()
	}
	zap.L().Info("company: loaded identity", zap.String("path", path), zap.Int("cnpjs", len(id.CNPJs)))
	return id
}

// ReadIdentity parses an identity file strictly.
func ReadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from configuration
	if err != nil {
		return nil, eris.Wrapf(err, "company: read %s", path)
	}
	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "company: parse %s", path)
	}
	return NewIdentity(f.Identifiers.CNPJs, f.Identifiers.Names), nil
}

// IsOwnCNPJ reports whether cnpj (any punctuation) belongs to the operator.
func (id *Identity) IsOwnCNPJ(cnpj string) bool {
	if id == nil {
		return false
	}
	_, ok := id.cnpjs[brazil.Digits(cnpj)]
	return ok
}

// IsOwnName reports whether name contains one of the operator's names.
func (id *Identity) IsOwnName(name string) bool {
	if id == nil || name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, n := range id.Names {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
