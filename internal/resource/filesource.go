package resource

import (
	"context"
	"fmt"
	"os"

	"contentdir/internal/cds"
)

// FileHandler serves the `default` (and sidecar: fanart/container-art/
// subtitle/resource) handler types straight off disk, using the resource's
// res@resourceFile attribute as the backing path (spec §4.3, §4.8).
type FileHandler struct{}

func (FileHandler) ServeContent(ctx context.Context, obj cds.CdsObject, resIndex int, res *cds.CdsResource) (cds.ByteSource, error) {
	path := res.Attributes[cds.AttrResourceFile]
	if path == "" {
		path = obj.Head().Location
	}
	if path == "" {
		return nil, &cds.NotFoundError{What: fmt.Sprintf("no backing file for resource %d", resIndex)}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &cds.IoError{Path: path, Cause: err}
	}
	return f, nil
}

var _ Handler = FileHandler{}
