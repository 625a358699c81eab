package metadata

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"contentdir/internal/cds"
)

// LibExifHandler reads image resolution via the standard image decoders and
// records it on the default resource's res@resolution attribute.
//
// The corpus carries no EXIF-tag library (no rwcarlsen/goexif or
// equivalent), so full EXIF field extraction (camera model, orientation,
// GPS) is out of reach here without fabricating a dependency; see
// DESIGN.md. Resolution probing needs nothing beyond image.DecodeConfig,
// so that much is real.
type LibExifHandler struct{}

func (LibExifHandler) HandlerType() string { return cds.HandlerLibExif }

func (LibExifHandler) Accepts(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func (LibExifHandler) FillMetadata(ctx context.Context, path string, obj cds.CdsObject) error {
	f, err := os.Open(path)
	if err != nil {
		return &cds.IoError{Path: path, Cause: err}
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		// Not every "image/*" file is one the stdlib decoders understand
		// (e.g. HEIC, RAW formats) — skip quietly rather than fail import.
		return nil
	}

	h := obj.Head()
	for i := range h.Resources {
		if h.Resources[i].HandlerType == cds.HandlerDefault {
			h.Resources[i].Attributes[cds.AttrResolution] = cds.FormatResolution(cfg.Width, cfg.Height)
		}
	}
	h.Metadata = h.Metadata.Append("resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	return nil
}

var _ Handler = LibExifHandler{}
