package fetch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

func TestFileFetch(t *testing.T) {
	base := t.TempDir()
	os.MkdirAll(filepath.Join(base, "docs"), 0o755)
	os.WriteFile(filepath.Join(base, "docs", "readme.md"), []byte("hello"), 0o644)

	f := &FileFetcher{Base: base, MaxBytes: 1024}
	data, src, err := f.Fetch("docs/readme.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q", data)
	}
	if src.Kind != model.SourceFile || src.Path != "docs/readme.md" {
		t.Errorf("source = %+v", src)
	}
}

func TestFileFetchTraversal(t *testing.T) {
	base := t.TempDir()
	f := &FileFetcher{Base: base, MaxBytes: 1024}

	for _, path := range []string{"../escape", "../../etc/passwd", "a/../../../x"} {
		if _, _, err := f.Fetch(path); !errors.Is(err, ErrPathEscape) {
			t.Errorf("path %q: err = %v, want ErrPathEscape", path, err)
		}
	}
}

func TestFileFetchSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644)
	base := t.TempDir()
	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(base, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	f := &FileFetcher{Base: base, MaxBytes: 1024}
	if _, _, err := f.Fetch("link"); !errors.Is(err, ErrPathEscape) {
		t.Errorf("err = %v, want ErrPathEscape", err)
	}
}

func TestFileFetchMissing(t *testing.T) {
	f := &FileFetcher{Base: t.TempDir(), MaxBytes: 1024}
	if _, _, err := f.Fetch("nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFileFetchSizeCap(t *testing.T) {
	base := t.TempDir()
	os.WriteFile(filepath.Join(base, "big"), make([]byte, 2048), 0o644)

	f := &FileFetcher{Base: base, MaxBytes: 1024}
	if _, _, err := f.Fetch("big"); !errors.Is(err, ErrSizeExceeded) {
		t.Errorf("err = %v, want ErrSizeExceeded", err)
	}
}
