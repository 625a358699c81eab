package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"contentdir/internal/cds"
)

func TestContentPathSetupCaseSensitivity(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cover.JPG"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	itemPath := filepath.Join(dir, "track.mp3")

	insensitive := ContentPathSetup{Names: []NameTemplate{"cover.jpg"}, CaseSensitive: false}
	matches, err := insensitive.Resolve(itemPath, nil)
	if err != nil {
		t.Fatalf("Resolve (case-insensitive): %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("case-insensitive Resolve returned %d matches, want 1: %v", len(matches), matches)
	}

	sensitive := ContentPathSetup{Names: []NameTemplate{"cover.jpg"}, CaseSensitive: true}
	matches, err = sensitive.Resolve(itemPath, nil)
	if err != nil {
		t.Fatalf("Resolve (case-sensitive): %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("case-sensitive Resolve returned %d matches, want 0: %v", len(matches), matches)
	}
}

func TestContentPathSetupNameExpansion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Example Artist - Example Album.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	itemPath := filepath.Join(dir, "track.mp3")

	meta := cds.MetadataList(nil).
		Append(cds.MetaArtist, "Example Artist").
		Append(cds.MetaAlbum, "Example Album")

	setup := ContentPathSetup{Names: []NameTemplate{"%artist% - %album%.jpg"}}
	matches, err := setup.Resolve(itemPath, meta)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Resolve returned %d matches, want 1: %v", len(matches), matches)
	}
}

func TestContentPathSetupPatternMatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "subs"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "subs", "track.en.srt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	itemPath := filepath.Join(dir, "track.mp4")

	setup := ContentPathSetup{
		Patterns: []PatternTemplate{{Dir: "subs", Ext: "srt", Stem: "track.*"}},
	}
	matches, err := setup.Resolve(itemPath, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Resolve returned %d matches, want 1: %v", len(matches), matches)
	}
}

func TestContentPathSetupNoMatchReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	itemPath := filepath.Join(dir, "track.mp3")

	setup := ContentPathSetup{Names: []NameTemplate{"cover.jpg"}}
	matches, err := setup.Resolve(itemPath, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %v", matches)
	}
}
