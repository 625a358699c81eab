package resource

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"contentdir/internal/cds"
)

// Profile describes one transcode target: the command template to run and
// the content type it produces.
type Profile struct {
	Name        string
	Command     string   // executable, e.g. "ffmpeg"
	Args        []string // args with "{in}"/"{out}" placeholders
	ContentType string
}

// Transcoder is the `transcoder` resource handler (spec §4.8 step 5): it
// spawns Profile.Command, writes the result into a temp-file cache keyed by
// (objectId, profileName) via an LRU so repeated requests for the same
// rendition reuse the file, and collapses concurrent identical requests
// into a single in-flight spawn with singleflight — mirroring the
// at-most-one-in-flight-per-key pattern used for inbound RPC dedup in the
// catalog service of the wider corpus.
type Transcoder struct {
	profiles map[string]Profile
	cacheDir string

	group singleflight.Group
	cache *lru.Cache[string, string] // key -> cached file path
}

// NewTranscoder returns a Transcoder caching up to cacheSize rendered files
// under cacheDir.
func NewTranscoder(profiles []Profile, cacheDir string, cacheSize int) (*Transcoder, error) {
	if cacheSize <= 0 {
		cacheSize = 32
	}
	cache, err := lru.NewWithEvict[string, string](cacheSize, func(key, path string) {
		os.Remove(path)
	})
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	return &Transcoder{profiles: byName, cacheDir: cacheDir, cache: cache}, nil
}

func (t *Transcoder) ServeContent(ctx context.Context, obj cds.CdsObject, resIndex int, res *cds.CdsResource) (cds.ByteSource, error) {
	profileName := res.Parameters["profile"]
	profile, ok := t.profiles[profileName]
	if !ok {
		return nil, &cds.NotFoundError{What: fmt.Sprintf("transcode profile %q", profileName)}
	}

	key := fmt.Sprintf("%d:%s", obj.Head().ID, profileName)

	if path, ok := t.cache.Get(key); ok {
		if f, err := os.Open(path); err == nil {
			return f, nil
		}
		t.cache.Remove(key)
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		if path, ok := t.cache.Get(key); ok {
			return path, nil
		}
		path, err := t.transcode(ctx, obj, profile, key)
		if err != nil {
			return nil, err
		}
		t.cache.Add(key, path)
		return path, nil
	})
	if err != nil {
		return nil, err
	}

	f, err := os.Open(v.(string))
	if err != nil {
		return nil, &cds.IoError{Path: v.(string), Cause: err}
	}
	return f, nil
}

func (t *Transcoder) transcode(ctx context.Context, obj cds.CdsObject, profile Profile, key string) (string, error) {
	in := obj.Head().Location
	if in == "" {
		return "", &cds.NotFoundError{What: "source location for transcode"}
	}
	if err := os.MkdirAll(t.cacheDir, 0o755); err != nil {
		return "", &cds.IoError{Path: t.cacheDir, Cause: err}
	}
	out := filepath.Join(t.cacheDir, sanitizeKey(key)+transcodeExt(profile))

	args := make([]string, len(profile.Args))
	for i, a := range profile.Args {
		switch a {
		case "{in}":
			args[i] = in
		case "{out}":
			args[i] = out
		default:
			args[i] = a
		}
	}

	cmd := exec.CommandContext(ctx, profile.Command, args...)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("resource: transcode profile %q failed: %w", profile.Name, err)
	}
	return out, nil
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func transcodeExt(p Profile) string {
	switch p.ContentType {
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	default:
		return ".out"
	}
}

var _ Handler = (*Transcoder)(nil)
