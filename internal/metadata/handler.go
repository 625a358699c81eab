// Package metadata implements the C3 metadata handlers: pluggable
// extractors that enrich a freshly-discovered item with tags, resolution,
// duration, embedded thumbnails, and sidecar resources.
package metadata

import (
	"context"

	"contentdir/internal/cds"
)

// Handler extracts metadata for items of a given MIME family. FillMetadata
// must be idempotent: calling it twice on an unchanged file produces
// byte-identical metadata/resources (spec §4.3, testable property 6).
type Handler interface {
	HandlerType() string
	Accepts(mimeType string) bool
	FillMetadata(ctx context.Context, path string, obj cds.CdsObject) error
}

// Registry holds the active handler set in registration order and applies
// all of them that accept an item's MIME type (spec §4.5 step 4).
type Registry struct {
	handlers []Handler
	budget   *BudgetedRunner
	log      cds.Logger
}

// NewRegistry returns an empty Registry. budget may be nil to disable
// per-handler wall-clock timeouts.
func NewRegistry(log cds.Logger, budget *BudgetedRunner) *Registry {
	if log == nil {
		log = cds.NewNopLogger()
	}
	return &Registry{log: log, budget: budget}
}

// Register appends h to the handler chain.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// FillAll runs every handler accepting obj's MIME type, in registration
// order. A handler that errors (including on timeout) is logged and
// skipped; the item is still inserted with whatever metadata the other
// handlers gathered (spec §5 Timeouts).
func (r *Registry) FillAll(ctx context.Context, path string, obj cds.CdsObject, mimeType string) {
	for _, h := range r.handlers {
		if !h.Accepts(mimeType) {
			continue
		}
		var err error
		if r.budget != nil {
			err = r.budget.Run(ctx, h.HandlerType(), func(ctx context.Context) error {
				return h.FillMetadata(ctx, path, obj)
			})
		} else {
			err = h.FillMetadata(ctx, path, obj)
		}
		if err != nil {
			r.log.Warn("metadata handler failed", "handler", h.HandlerType(), "path", path, "error", err)
		}
	}
}
