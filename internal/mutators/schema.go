package mutators

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/spacesync/internal/protocol"
)

//go:embed schemas.cue
var schemasCUE string

// schemaSet validates mutation arguments against the CUE definitions.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so every
// validation holds mu.
type schemaSet struct {
	mu   sync.Mutex
	ctx  *cue.Context
	root cue.Value
}

func loadSchemas() (*schemaSet, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemasCUE, cue.Filename("schemas.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile mutator schemas: %s", errors.Details(err, nil))
	}
	return &schemaSet{ctx: ctx, root: root}, nil
}

// has reports whether definition exists, e.g. "#CreateStore".
func (s *schemaSet) has(definition string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.LookupPath(cue.ParsePath(definition)).Exists()
}

// decode validates args against definition and unmarshals them into dst.
func (s *schemaSet) decode(definition string, args json.RawMessage, dst any) error {
	if err := s.validate(definition, args); err != nil {
		return err
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return protocol.NewDomainError(CodeInvalidArgs, "decode arguments: %v", err)
	}
	return nil
}

func (s *schemaSet) validate(definition string, args json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := s.root.LookupPath(cue.ParsePath(definition))
	if !schema.Exists() {
		return fmt.Errorf("no schema %s", definition)
	}
	if len(args) == 0 {
		return protocol.NewDomainError(CodeInvalidArgs, "arguments are required")
	}

	data := s.ctx.CompileBytes(args, cue.Filename("args.json"))
	if err := data.Err(); err != nil {
		return protocol.NewDomainError(CodeInvalidArgs, "arguments are not valid JSON: %s", firstCUEError(err))
	}
	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return protocol.NewDomainError(CodeInvalidArgs, "%s", firstCUEError(err))
	}
	return nil
}

// firstCUEError renders the first error of a CUE error list on one line.
func firstCUEError(err error) string {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return strings.Join(strings.Fields(errs[0].Error()), " ")
}
