// Package resource implements C8: resolving (id, resIndex) to a byte
// source, including the USE_RESOURCE_REF redirect and per-resource-type
// handler plugins (spec §4.8).
package resource

import (
	"context"
	"fmt"

	"contentdir/internal/cds"
)

// Handler serves the bytes backing one resource.
type Handler interface {
	ServeContent(ctx context.Context, obj cds.CdsObject, resIndex int, res *cds.CdsResource) (cds.ByteSource, error)
}

// Dispatcher resolves requests against Storage and a registry of Handler
// plugins keyed by resource HandlerType.
type Dispatcher struct {
	storage  cds.Storage
	handlers map[string]Handler
}

// NewDispatcher returns a Dispatcher with no handlers registered; callers
// add handlers with Register.
func NewDispatcher(storage cds.Storage) *Dispatcher {
	return &Dispatcher{storage: storage, handlers: map[string]Handler{}}
}

// Register binds handlerType to h, overwriting any previous registration.
func (d *Dispatcher) Register(handlerType string, h Handler) {
	d.handlers[handlerType] = h
}

// Serve resolves (id, resIndex) per spec §4.8's five steps and returns a
// lazy byte source. Range handling is the HTTP layer's responsibility; this
// call only returns something seekable.
func (d *Dispatcher) Serve(ctx context.Context, id int32, resIndex int) (cds.ByteSource, error) {
	obj, err := d.storage.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	resObj := obj
	if obj.Head().Flags.Has(cds.FlagUseResourceRef) && obj.Head().RefID != cds.UnassignedID {
		referent, err := d.storage.Load(ctx, obj.Head().RefID)
		if err != nil {
			return nil, err
		}
		resObj = referent
	}

	resources := resObj.Head().Resources
	if resIndex < 0 || resIndex >= len(resources) {
		return nil, &cds.NotFoundError{What: fmt.Sprintf("resource %d on object %d", resIndex, id)}
	}
	res := &resources[resIndex]

	h, ok := d.handlers[res.HandlerType]
	if !ok {
		return nil, &cds.NotFoundError{What: fmt.Sprintf("resource handler %q", res.HandlerType)}
	}
	return h.ServeContent(ctx, resObj, resIndex, res)
}
