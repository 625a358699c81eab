package metadata

import (
	"os"
	"path/filepath"
	"strings"

	"contentdir/internal/cds"
)

// NameTemplate is a sidecar filename template such as "cover.jpg" or
// "%artist% - %album%.jpg", expanded against an item's metadata before
// matching (spec §4.3).
type NameTemplate string

// PatternTemplate is a (dir, ext) sidecar search rule: enumerate dir
// (relative to the item's folder) for files matching ext and the
// template's stem glob.
type PatternTemplate struct {
	Dir  string
	Ext  string
	Stem string // glob-style, "*"/"?" supported
}

// ContentPathSetup configures sidecar discovery for one handler kind
// (fanart/container-art/subtitle/resource).
type ContentPathSetup struct {
	Names         []NameTemplate
	Patterns      []PatternTemplate
	CaseSensitive bool
}

// Resolve implements the resolution order of spec §4.3: name templates
// first (in order), then (dir, ext) patterns, returning every match found
// and preserving discovery order. An empty result means "no sidecar".
func (c ContentPathSetup) Resolve(itemPath string, meta cds.MetadataList) ([]string, error) {
	folder := filepath.Dir(itemPath)
	var matches []string

	for _, tmpl := range c.Names {
		expanded := expandTemplate(string(tmpl), meta)
		found, err := c.resolveName(folder, expanded)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}

	for _, pat := range c.Patterns {
		found, err := c.resolvePattern(folder, pat)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}

	return matches, nil
}

func (c ContentPathSetup) resolveName(folder, name string) ([]string, error) {
	candidate := filepath.Join(folder, name)
	if c.CaseSensitive {
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return []string{candidate}, nil
		}
		return nil, nil
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, &cds.IoError{Path: folder, Cause: err}
	}
	lowerName := strings.ToLower(name)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(e.Name()) == lowerName {
			return []string{filepath.Join(folder, e.Name())}, nil
		}
	}
	return nil, nil
}

func (c ContentPathSetup) resolvePattern(folder string, pat PatternTemplate) ([]string, error) {
	dir := pat.Dir
	if dir == "" {
		dir = "."
	}
	target := filepath.Join(folder, dir)

	entries, err := os.ReadDir(target)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &cds.IoError{Path: target, Cause: err}
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		stem := strings.TrimSuffix(name, filepath.Ext(name))

		extMatch := pat.Ext == "" || strings.EqualFold(ext, pat.Ext)
		if !extMatch {
			continue
		}
		if pat.Stem != "" {
			ok, err := globMatch(pat.Stem, stem, c.CaseSensitive)
			if err != nil || !ok {
				continue
			}
		}
		matches = append(matches, filepath.Join(target, name))
	}
	return matches, nil
}

// globMatch implements the "*"/"?" glob-style stem matching spec §4.3 step
// 3 calls for, case-folding both sides unless caseSensitive is set.
func globMatch(pattern, name string, caseSensitive bool) (bool, error) {
	if !caseSensitive {
		pattern = strings.ToLower(pattern)
		name = strings.ToLower(name)
	}
	return filepath.Match(pattern, name)
}

func expandTemplate(tmpl string, meta cds.MetadataList) string {
	replacer := func(key, metaKey string) {
		v, _ := meta.First(metaKey)
		tmpl = strings.ReplaceAll(tmpl, "%"+key+"%", v)
	}
	replacer("album", cds.MetaAlbum)
	replacer("artist", cds.MetaArtist)
	replacer("genre", cds.MetaGenre)
	replacer("title", cds.MetaTitle)
	replacer("composer", cds.MetaComposer)
	replacer("filename", cds.MetaFilename)
	return tmpl
}
