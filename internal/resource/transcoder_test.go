package resource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"contentdir/internal/cds"
)

func testProfile() Profile {
	return Profile{
		Name:        "copy",
		Command:     "cp",
		Args:        []string{"{in}", "{out}"},
		ContentType: "audio/mpeg",
	}
}

func TestTranscoderCachesByObjectAndProfile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp3")
	if err := os.WriteFile(src, []byte("source"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tc, err := NewTranscoder([]Profile{testProfile()}, filepath.Join(dir, "cache"), 4)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	obj := &cds.Item{Header: cds.Header{ID: 7, Location: src, Auxdata: map[string]string{}}}
	res := cds.NewResource(cds.HandlerTranscoder)
	res.Parameters["profile"] = "copy"

	ctx := context.Background()
	out1, err := tc.ServeContent(ctx, obj, 0, &res)
	if err != nil {
		t.Fatalf("ServeContent #1: %v", err)
	}
	out1.Close()

	out2, err := tc.ServeContent(ctx, obj, 0, &res)
	if err != nil {
		t.Fatalf("ServeContent #2: %v", err)
	}
	out2.Close()

	if got, ok := tc.cache.Get("7:copy"); !ok || got == "" {
		t.Fatal("expected cached output path for key 7:copy")
	}
}

func TestTranscoderUnknownProfileNotFound(t *testing.T) {
	tc, err := NewTranscoder(nil, t.TempDir(), 4)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}
	obj := &cds.Item{Header: cds.Header{ID: 1, Auxdata: map[string]string{}}}
	res := cds.NewResource(cds.HandlerTranscoder)
	res.Parameters["profile"] = "nonexistent"

	if _, err := tc.ServeContent(context.Background(), obj, 0, &res); err == nil {
		t.Fatal("expected NotFoundError for unknown profile")
	}
}

func TestTranscoderDeduplicatesConcurrentRequests(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp3")
	if err := os.WriteFile(src, []byte("source"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tc, err := NewTranscoder([]Profile{testProfile()}, filepath.Join(dir, "cache"), 4)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}
	obj := &cds.Item{Header: cds.Header{ID: 9, Location: src, Auxdata: map[string]string{}}}
	res := cds.NewResource(cds.HandlerTranscoder)
	res.Parameters["profile"] = "copy"

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src, err := tc.ServeContent(context.Background(), obj, 0, &res)
			if err == nil {
				src.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
}
