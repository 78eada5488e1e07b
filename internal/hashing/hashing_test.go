package hashing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(5*time.Second, DefaultDirectoryOpts(), logger)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashFileDeterministic(t *testing.T) {
	h := newTestHasher(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "content")

	first, err := h.HashFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.HashFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same content hashed differently: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("hash length = %d, want 64", len(first))
	}
}

func TestHashFileDetectsChange(t *testing.T) {
	h := newTestHasher(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "before")

	before, err := h.HashFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "a.txt", "after")
	after, err := h.HashFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Error("modified file should hash differently")
	}
}

func TestHashFileRejectsSymlink(t *testing.T) {
	h := newTestHasher(t)
	dir := t.TempDir()
	target := writeFile(t, dir, "target.txt", "content")
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := h.HashFile(context.Background(), link); err == nil {
		t.Error("hashing a symlink should fail")
	}
}

func TestHashDirectoryOrderIndependent(t *testing.T) {
	h := newTestHasher(t)

	// Same files written in different orders must produce the same
	// digest: the hash list is sorted before combining.
	d1 := t.TempDir()
	writeFile(t, d1, "a.txt", "alpha")
	writeFile(t, d1, "b.txt", "beta")
	writeFile(t, d1, "sub/c.txt", "gamma")

	d2 := t.TempDir()
	writeFile(t, d2, "sub/c.txt", "gamma")
	writeFile(t, d2, "b.txt", "beta")
	writeFile(t, d2, "a.txt", "alpha")

	g1, err := h.HashDirectory(context.Background(), d1)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := h.HashDirectory(context.Background(), d2)
	if err != nil {
		t.Fatal(err)
	}
	if g1.Hash != g2.Hash {
		t.Errorf("digests differ: %s vs %s", g1.Hash, g2.Hash)
	}
	if g1.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", g1.FileCount)
	}
	if g1.Sampled {
		t.Error("small directory should not be sampled")
	}
}

func TestHashDirectoryDetectsNestedChange(t *testing.T) {
	h := newTestHasher(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "deep/nested/b.txt", "beta")

	before, err := h.HashDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "deep/nested/b.txt", "changed")
	after, err := h.HashDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if before.Hash == after.Hash {
		t.Error("nested file change should change the directory digest")
	}
}

func TestHashDirectorySkipsSymlinks(t *testing.T) {
	h := newTestHasher(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")

	before, err := h.HashDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	after, err := h.HashDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if before.Hash != after.Hash {
		t.Error("adding a symlink should not change the digest")
	}
}

func TestHashDirectoryFileCap(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(5*time.Second, DirectoryOpts{
		MaxFiles:       3,
		Budget:         30 * time.Second,
		PerFileTimeout: 5 * time.Second,
	}, logger)

	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, dir, name+".txt", name)
	}

	d, err := h.HashDirectory(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Sampled {
		t.Error("digest over the cap should be flagged Sampled")
	}
	if d.FileCount != 3 {
		t.Errorf("FileCount = %d, want cap 3", d.FileCount)
	}
}

func TestHashDirectoryMissingRoot(t *testing.T) {
	h := newTestHasher(t)
	_, err := h.HashDirectory(context.Background(), filepath.Join(t.TempDir(), "gone"))
	var uerr *UnreadableError
	if !errors.As(err, &uerr) {
		t.Errorf("error = %v, want UnreadableError", err)
	}
}

func TestHashFileTimeout(t *testing.T) {
	h := newTestHasher(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.HashFile(ctx, path)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Errorf("error = %v, want TimeoutError", err)
	}
}

func TestRecentlyModified(t *testing.T) {
	dir := t.TempDir()
	recent := writeFile(t, dir, "recent.txt", "x")
	old := writeFile(t, dir, "old.txt", "y")
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	got := RecentlyModified(dir, time.Hour, 4, 10)
	if len(got) != 1 {
		t.Fatalf("got %d files, want 1", len(got))
	}
	if got[0].Path != recent {
		t.Errorf("culprit = %s, want %s", got[0].Path, recent)
	}
}

func TestRecentlyModifiedDepthLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shallow.txt", "x")
	writeFile(t, dir, "a/b/c/d/e/deep.txt", "y")

	got := RecentlyModified(dir, time.Hour, 2, 10)
	for _, f := range got {
		if filepath.Base(f.Path) == "deep.txt" {
			t.Error("file beyond the depth limit should be skipped")
		}
	}
	if len(got) != 1 {
		t.Errorf("got %d files, want 1", len(got))
	}
}
