// Package quarantine is the content-addressed store for blocked originals.
// Records are immutable once written; identical bytes map to the same id,
// and the original text is only ever released as a redacted excerpt.
package quarantine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bridgewarden/bridgewarden/internal/model"
	"github.com/bridgewarden/bridgewarden/internal/redact"
)

// DefaultExcerptBytes bounds the redacted original excerpt returned to a
// reviewer.
const DefaultExcerptBytes = 4 * 1024

// validID guards against path traversal through crafted ids.
var validID = regexp.MustCompile(`^q_[0-9a-f]{16}$`)

// ID derives the quarantine id from a content hash.
func ID(contentHash string) string {
	if len(contentHash) < 16 {
		return "q_" + contentHash
	}
	return "q_" + contentHash[:16]
}

// Record is one immutable quarantine entry.
type Record struct {
	ID            string            `json:"id"`
	ContentHash   string            `json:"content_hash"`
	CreatedAt     time.Time         `json:"created_at"`
	Source        model.Source      `json:"source"`
	Original      string            `json:"original"` // base64 of the original bytes
	Sanitized     string            `json:"sanitized"`
	Findings      []model.Finding   `json:"findings"`
	Redactions    []model.Redaction `json:"redactions"`
	Decision      model.Decision    `json:"decision"`
	RiskScore     float64           `json:"risk_score"`
	PolicyVersion string            `json:"policy_version"`
}

// View is the reviewer-safe projection of a record: the original appears
// only as a redacted excerpt.
type View struct {
	ID              string            `json:"id"`
	OriginalExcerpt string            `json:"original_excerpt"`
	Sanitized       string            `json:"sanitized_text"`
	Reasons         []string          `json:"reasons"`
	RiskScore       float64           `json:"risk_score"`
	Source          model.Source      `json:"source"`
	Decision        model.Decision    `json:"decision"`
	Redactions      []model.Redaction `json:"redactions"`
	CreatedAt       time.Time         `json:"created_at"`
	PolicyVersion   string            `json:"policy_version"`
}

// Store is a directory of <id>.json records.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the quarantine directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("quarantine: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put writes a record keyed by its content hash. If a record for the same
// hash already exists it is returned untouched and cacheHit is true. Writes
// are atomic: temp file, fsync, rename.
func (s *Store) Put(rec Record) (id string, cacheHit bool, err error) {
	rec.ID = ID(rec.ContentHash)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(rec.ID)
	if _, statErr := os.Stat(path); statErr == nil {
		return rec.ID, true, nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("quarantine: marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, rec.ID+".tmp-*")
	if err != nil {
		return "", false, fmt.Errorf("quarantine: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", false, fmt.Errorf("quarantine: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", false, fmt.Errorf("quarantine: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", false, fmt.Errorf("quarantine: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", false, fmt.Errorf("quarantine: publish record: %w", err)
	}
	return rec.ID, false, nil
}

// Get loads a raw record by id.
func (s *Store) Get(id string) (*Record, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("quarantine: invalid id %q", id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("quarantine: read record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("quarantine: parse record %s: %w", id, err)
	}
	return &rec, nil
}

// GetView loads a record and projects it into the reviewer-safe view. The
// excerpt is the redacted prefix of the original, capped at excerptBytes
// (DefaultExcerptBytes when zero).
func (s *Store) GetView(id string, excerptBytes int) (*View, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if excerptBytes <= 0 {
		excerptBytes = DefaultExcerptBytes
	}

	original, err := base64.StdEncoding.DecodeString(rec.Original)
	if err != nil {
		return nil, fmt.Errorf("quarantine: decode original %s: %w", id, err)
	}
	redacted := redact.Mask(string(original)).Text
	excerpt := redacted
	if len(excerpt) > excerptBytes {
		cut := excerptBytes
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut] + "..."
	}

	reasons := make([]string, 0, len(rec.Findings))
	seen := make(map[string]bool, len(rec.Findings))
	for _, f := range rec.Findings {
		if !seen[f.Code] {
			seen[f.Code] = true
			reasons = append(reasons, f.Code)
		}
	}

	return &View{
		ID:              rec.ID,
		OriginalExcerpt: excerpt,
		Sanitized:       rec.Sanitized,
		Reasons:         reasons,
		RiskScore:       rec.RiskScore,
		Source:          rec.Source,
		Decision:        rec.Decision,
		Redactions:      rec.Redactions,
		CreatedAt:       rec.CreatedAt,
		PolicyVersion:   rec.PolicyVersion,
	}, nil
}

// Sweep deletes records older than maxAge and returns how many were
// removed. Retention is the only path that deletes quarantine records.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
