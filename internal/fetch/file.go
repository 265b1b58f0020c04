// Package fetch implements the adapters that feed the pipeline: local
// files under a base directory, allowlisted web pages behind SSRF checks,
// and repository archives. Fetchers return bytes plus a source descriptor;
// they never bypass the pipeline.
package fetch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

// Sentinel errors mapped to reason codes at the tool boundary.
var (
	ErrPathEscape   = errors.New("path escapes base directory")
	ErrNotFound     = errors.New("file not found")
	ErrSizeExceeded = errors.New("size cap exceeded")
)

// FileFetcher reads files relative to a fixed base directory.
type FileFetcher struct {
	Base     string
	MaxBytes int64
}

// Fetch resolves path under the base directory, rejecting traversal via
// ".." or symlinks, and returns at most MaxBytes+1 bytes so callers can
// distinguish a full read from a capped one.
func (f *FileFetcher) Fetch(path string) ([]byte, model.Source, error) {
	src := model.Source{Kind: model.SourceFile, Path: path}

	base, err := filepath.Abs(f.Base)
	if err != nil {
		return nil, src, fmt.Errorf("fetch: resolve base: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	candidate := filepath.Join(base, filepath.FromSlash(path))
	if !within(base, candidate) {
		return nil, src, ErrPathEscape
	}

	// Resolve symlinks on the candidate itself: a link inside the base
	// pointing outside is still an escape.
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, src, ErrNotFound
		}
		return nil, src, fmt.Errorf("fetch: resolve path: %w", err)
	}
	if !within(base, resolved) {
		return nil, src, ErrPathEscape
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, src, ErrNotFound
	}
	if info.IsDir() {
		return nil, src, ErrNotFound
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, src, fmt.Errorf("fetch: open: %w", err)
	}
	defer file.Close()

	limit := f.MaxBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, src, fmt.Errorf("fetch: read: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, src, ErrSizeExceeded
	}
	return data, src, nil
}

// within reports whether candidate is base itself or below it.
func within(base, candidate string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
