// Package transformer defines the C4 import-transformer contract: user
// import logic invoked with a freshly extracted object plus a handful of
// callbacks into storage, decoupled from the scripting engine that drives
// it (spec §4.4).
package transformer

import (
	"context"

	"contentdir/internal/cds"
)

// Callbacks is the set of operations a Transformer may invoke, in any
// order, any number of times, while importing one object.
type Callbacks interface {
	// CopyObject returns a deep copy of o suitable for mutation.
	CopyObject(o cds.CdsObject) cds.CdsObject

	// AddContainerTree ensures the chain exists, creating missing
	// containers, and returns the terminal container's id.
	AddContainerTree(ctx context.Context, chain []cds.CdsObject) (int32, error)

	// AddCdsObject inserts o under parentID. For physical items refID is
	// set to orig's id and FlagUseResourceRef; playlist contexts instead
	// set FlagPlaylistRef.
	AddCdsObject(ctx context.Context, o cds.CdsObject, parentID int32, orig cds.CdsObject, playlistRef bool) (int32, error)
}

// Transformer is invoked once per freshly-extracted object. Implementations
// must return promptly once ctx is cancelled; callbacks called after
// cancellation return a *cds.ShutdownError.
type Transformer interface {
	Transform(ctx context.Context, orig cds.CdsObject, cb Callbacks) error
}

// NopTransformer performs no virtual materialization; it is the default
// when no import script is configured.
type NopTransformer struct{}

func (NopTransformer) Transform(ctx context.Context, orig cds.CdsObject, cb Callbacks) error {
	return nil
}

var _ Transformer = NopTransformer{}

// ScriptTransformer drives a cds.Interpreter loaded with a user-supplied
// import script. The script calls back into the host (add/copy/container
// helpers) via whatever binding the Interpreter implementation exposes;
// this type just owns the load-once/call-per-object lifecycle and the
// cancellation check the spec requires around it.
type ScriptTransformer struct {
	Interp cds.Interpreter
	Source string
	log    cds.Logger

	loaded bool
}

// NewScriptTransformer returns a transformer that lazily loads source into
// interp on first use.
func NewScriptTransformer(interp cds.Interpreter, source string, log cds.Logger) *ScriptTransformer {
	if log == nil {
		log = cds.NewNopLogger()
	}
	return &ScriptTransformer{Interp: interp, Source: source, log: log}
}

func (t *ScriptTransformer) Transform(ctx context.Context, orig cds.CdsObject, cb Callbacks) error {
	if err := ctx.Err(); err != nil {
		return &cds.ShutdownError{}
	}
	if !t.loaded {
		if err := t.Interp.LoadScript(t.Source); err != nil {
			return &cds.HandlerError{Handler: "transformer", Cause: err}
		}
		t.loaded = true
	}
	if err := t.Interp.CallImport(orig); err != nil {
		return &cds.HandlerError{Handler: "transformer", Cause: err}
	}
	return nil
}

var _ Transformer = (*ScriptTransformer)(nil)
