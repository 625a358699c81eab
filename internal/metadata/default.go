package metadata

import (
	"context"
	"fmt"
	"os"

	"contentdir/internal/cds"
)

// DefaultHandler attaches the "default" resource: the original file itself,
// byte-served as-is. It accepts every MIME type, so it should be registered
// first so downstream resIndex 0 is always the original.
type DefaultHandler struct{}

func (DefaultHandler) HandlerType() string { return cds.HandlerDefault }

func (DefaultHandler) Accepts(mimeType string) bool { return true }

func (DefaultHandler) FillMetadata(ctx context.Context, path string, obj cds.CdsObject) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &cds.IoError{Path: path, Cause: err}
	}

	h := obj.Head()
	var mime string
	switch v := obj.(type) {
	case *cds.Item:
		mime = v.MimeType
	case *cds.ExternalItem:
		mime = v.MimeType
	}

	res := cds.NewResource(cds.HandlerDefault)
	res.Attributes[cds.AttrProtocolInfo] = fmt.Sprintf("http-get:*:%s:*", mime)
	res.Attributes[cds.AttrSize] = fmt.Sprintf("%d", fi.Size())
	res.Attributes[cds.AttrResourceFile] = path

	h.Resources = append(h.Resources, res)
	h.SizeOnDisk = fi.Size()
	return nil
}

var _ Handler = DefaultHandler{}
