package metadata

import (
	"context"
	"strings"

	"contentdir/internal/cds"
)

// SidecarHandler wraps a ContentPathSetup as a Handler: every match becomes
// a resource of the given handlerType, carrying the discovered path in
// res@resourceFile (spec §4.3, §6's resourceFile note).
type SidecarHandler struct {
	handlerType string
	mimePrefix  string // "" accepts everything
	setup       ContentPathSetup
}

// NewFanartHandler discovers cover art / fanart images alongside an item.
func NewFanartHandler(setup ContentPathSetup) SidecarHandler {
	return SidecarHandler{handlerType: cds.HandlerFanart, setup: setup}
}

// NewContainerArtHandler discovers per-container artwork (e.g. folder.jpg).
func NewContainerArtHandler(setup ContentPathSetup) SidecarHandler {
	return SidecarHandler{handlerType: cds.HandlerContainerArt, setup: setup}
}

// NewSubtitleHandler discovers sidecar subtitle files for video items.
func NewSubtitleHandler(setup ContentPathSetup) SidecarHandler {
	return SidecarHandler{handlerType: cds.HandlerSubtitle, mimePrefix: "video/", setup: setup}
}

// NewResourceHandler discovers generic companion resource files (e.g. .nfo
// sidecars carrying extra metadata pointers).
func NewResourceHandler(setup ContentPathSetup) SidecarHandler {
	return SidecarHandler{handlerType: cds.HandlerResource, setup: setup}
}

func (s SidecarHandler) HandlerType() string { return s.handlerType }

func (s SidecarHandler) Accepts(mimeType string) bool {
	return s.mimePrefix == "" || strings.HasPrefix(mimeType, s.mimePrefix)
}

func (s SidecarHandler) FillMetadata(ctx context.Context, path string, obj cds.CdsObject) error {
	h := obj.Head()
	matches, err := s.setup.Resolve(path, h.Metadata)
	if err != nil {
		return err
	}
	for _, m := range matches {
		res := cds.NewResource(s.handlerType)
		res.Attributes[cds.AttrResourceFile] = m
		h.Resources = append(h.Resources, res)
	}
	return nil
}

var _ Handler = SidecarHandler{}
