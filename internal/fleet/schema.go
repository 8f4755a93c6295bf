package fleet

import (
	_ "embed"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// cue.Context is not safe for concurrent use.
var (
	schemaMu   sync.Mutex
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
)

func loadSchema() {
	schemaCtx = cuecontext.New()
	schemaDef = schemaCtx.CompileString(schemaCUE, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Descriptor"))
}

// checkShape unifies the JSON document with the #Descriptor definition.
// JSON is valid CUE, so the document compiles directly.
func checkShape(data []byte) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaOnce.Do(loadSchema)

	if err := schemaDef.Err(); err != nil {
		return reject(CodeInvalidShape, "", "descriptor schema: %v", err)
	}

	doc := schemaCtx.CompileBytes(data, cue.Filename("descriptor.json"))
	if err := doc.Err(); err != nil {
		return reject(CodeInvalidShape, "", "%v", err)
	}

	if err := schemaDef.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		errs := cueerrors.Errors(err)
		field := ""
		if len(errs) > 0 {
			field = strings.Join(errs[0].Path(), ".")
		}
		return reject(CodeInvalidShape, field, "%s", cueerrors.Details(err, nil))
	}
	return nil
}
