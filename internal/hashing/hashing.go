// Package hashing computes content hashes for monitored assets. All
// hashing is time-bounded: stalled I/O (network drives, cloud-synced
// placeholders) surfaces as a timeout instead of hanging the monitor.
package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/attestra/attestra/internal/safefile"
)

// TimeoutError reports a hash that exceeded its time budget. Callers
// treat it as "hash unknown this cycle" and retry on the next tick.
type TimeoutError struct {
	Path string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hashing %s timed out", e.Path)
}

// UnreadableError reports a path that could not be read during a
// directory walk. The walk skips it and continues.
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("unreadable path %s: %v", e.Path, e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

// DirectoryOpts caps directory digests so one pathological directory
// cannot starve the scheduler.
type DirectoryOpts struct {
	MaxFiles       int           // enumeration cap; hitting it marks the digest Sampled
	Budget         time.Duration // total wall-clock budget for the walk
	PerFileTimeout time.Duration // per-file hashing timeout inside the walk
}

// DefaultDirectoryOpts returns the caps used when config does not
// override them.
func DefaultDirectoryOpts() DirectoryOpts {
	return DirectoryOpts{
		MaxFiles:       500,
		Budget:         30 * time.Second,
		PerFileTimeout: 5 * time.Second,
	}
}

// Digest is the result of hashing a directory asset.
type Digest struct {
	Hash      string
	FileCount int
	// Sampled means the file-count cap was hit and the digest covers
	// only a subset. Verification against a sampled digest is honest
	// about being an approximation, not a complete proof.
	Sampled bool
}

// Hasher hashes files and directories under configured time bounds.
type Hasher struct {
	FileTimeout time.Duration
	Dir         DirectoryOpts
	logger      *slog.Logger
}

// New builds a Hasher with the given bounds.
func New(fileTimeout time.Duration, dir DirectoryOpts, logger *slog.Logger) *Hasher {
	if fileTimeout <= 0 {
		fileTimeout = 10 * time.Second
	}
	if dir.MaxFiles <= 0 {
		dir = DefaultDirectoryOpts()
	}
	return &Hasher{FileTimeout: fileTimeout, Dir: dir, logger: logger}
}

// HashFile streams the file through SHA-256 under the configured
// timeout. Symlinks are rejected up front.
func (h *Hasher) HashFile(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.FileTimeout)
	defer cancel()
	return hashFile(ctx, path)
}

func hashFile(ctx context.Context, path string) (string, error) {
	if err := safefile.RejectSymlink(path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	digest := sha256.New()
	buf := make([]byte, 128*1024)
	for {
		select {
		case <-ctx.Done():
			return "", &TimeoutError{Path: path}
		default:
		}
		n, err := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}
		if err == io.EOF {
			return hex.EncodeToString(digest.Sum(nil)), nil
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	}
}

// HashDirectory computes a merkle-style digest: every regular file is
// hashed individually, the hash list is sorted lexicographically so the
// result is independent of enumeration order, and the sorted
// concatenation is hashed. Symlinks are excluded to avoid cycles and
// traversal outside the asset boundary. Unreadable entries are skipped
// and logged, never fatal to the walk.
func (h *Hasher) HashDirectory(ctx context.Context, root string) (Digest, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Dir.Budget)
	defer cancel()

	if _, err := os.Stat(root); err != nil {
		return Digest{}, &UnreadableError{Path: root, Err: err}
	}

	var hashes []string
	sampled := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			h.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			sampled = true
			return fs.SkipAll
		default:
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(hashes) >= h.Dir.MaxFiles {
			sampled = true
			return fs.SkipAll
		}

		fileCtx, fileCancel := context.WithTimeout(ctx, h.Dir.PerFileTimeout)
		sum, err := hashFile(fileCtx, path)
		fileCancel()
		if err != nil {
			var terr *TimeoutError
			if errors.As(err, &terr) {
				h.logger.Warn("per-file hash timed out, skipping", "path", path)
				sampled = true
				return nil
			}
			h.logger.Warn("skipping unhashable file", "path", path, "error", err)
			return nil
		}
		hashes = append(hashes, sum)
		return nil
	})
	if err != nil {
		return Digest{}, fmt.Errorf("walking %s: %w", root, err)
	}
	if ctx.Err() != nil {
		sampled = true
	}

	sort.Strings(hashes)
	combined := sha256.New()
	for _, sum := range hashes {
		combined.Write([]byte(sum))
	}

	if sampled {
		h.logger.Info("directory digest is sampled, not complete",
			"root", root, "files", len(hashes), "cap", h.Dir.MaxFiles)
	}
	return Digest{
		Hash:      hex.EncodeToString(combined.Sum(nil)),
		FileCount: len(hashes),
		Sampled:   sampled,
	}, nil
}

// HashPath hashes a file or directory depending on isDir. Directory
// digests collapse to their combined hash string.
func (h *Hasher) HashPath(ctx context.Context, path string, isDir bool) (string, error) {
	if isDir {
		d, err := h.HashDirectory(ctx, path)
		if err != nil {
			return "", err
		}
		return d.Hash, nil
	}
	return h.HashFile(ctx, path)
}

// ModifiedFile pairs a path with its mtime for culprit narrowing.
type ModifiedFile struct {
	Path    string
	ModTime time.Time
}

// RecentlyModified scans root for regular files modified within the
// given window, bounded by depth and result count, sorted most recent
// first. It is used after a periodic re-verification mismatch to point
// the change event at the most likely culprit instead of the directory
// root.
func RecentlyModified(root string, window time.Duration, maxDepth, limit int) []ModifiedFile {
	cutoff := time.Now().Add(-window)

	var out []ModifiedFile
	baseSep := countSep(root)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if countSep(path)-baseSep >= maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			out = append(out, ModifiedFile{Path: path, ModTime: info.ModTime()})
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func countSep(path string) int {
	n := 0
	for _, c := range path {
		if c == filepath.Separator {
			n++
		}
	}
	return n
}
