package remote

import (
	"bytes"
	"embed"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://crafttrack.invalid/schemas/"

// schemaSet holds one compiled schema per kind for pulled records.
type schemaSet struct {
	byKind map[models.Kind]*jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     *schemaSet
	schemasErr  error
)

// loadSchemas compiles the embedded schemas once per process.
func loadSchemas() (*schemaSet, error) {
	schemasOnce.Do(func() {
		schemas, schemasErr = compileSchemas()
	})
	return schemas, schemasErr
}

func compileSchemas() (*schemaSet, error) {
	c := jsonschema.NewCompiler()
	for _, k := range models.Kinds() {
		raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "read schema "+string(k), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "parse schema "+string(k), err)
		}
		if err := c.AddResource(schemaBase+string(k)+".json", doc); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "add schema "+string(k), err)
		}
	}

	set := &schemaSet{byKind: make(map[models.Kind]*jsonschema.Schema)}
	for _, k := range models.Kinds() {
		sch, err := c.Compile(schemaBase + string(k) + ".json")
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "compile schema "+string(k), err)
		}
		set.byKind[k] = sch
	}
	return set, nil
}

// validate checks one raw wire record of kind.
func (s *schemaSet) validate(kind models.Kind, raw []byte) error {
	sch, ok := s.byKind[kind]
	if !ok {
		return errors.Newf(errors.ErrInvalid, "unknown entity kind %q", kind)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(errors.ErrRemoteRejected, "malformed "+string(kind)+" record", err)
	}
	if err := sch.Validate(inst); err != nil {
		return errors.Wrap(errors.ErrRemoteRejected, "invalid "+string(kind)+" record", err)
	}
	return nil
}
