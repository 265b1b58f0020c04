// Package approval tracks per-source approval state: which web domains,
// repo URLs, and upstream servers a human has cleared for fetching.
package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the state of one approval request. Requests transition
// PENDING → APPROVED or PENDING → DENIED exactly once.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// Kind classifies what an approval covers.
type Kind string

const (
	KindWebDomain      Kind = "web_domain"
	KindRepoURL        Kind = "repo_url"
	KindUpstreamServer Kind = "upstream_mcp_server"
)

// validID guards against path traversal through crafted approval ids.
var validID = regexp.MustCompile(`^a_[0-9a-f]{32}$`)

// Record is one approval request and its decision state.
type Record struct {
	ApprovalID string    `json:"approval_id"`
	Kind       Kind      `json:"kind"`
	Target     string    `json:"target"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	DecidedBy  string    `json:"decided_by,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Store keeps one JSON file per approval under a directory. Mutations hold
// the store lock across the read-modify-write.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("approval: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Request creates a new PENDING approval and returns its record.
func (s *Store) Request(kind Kind, target string) (*Record, error) {
	if target == "" {
		return nil, fmt.Errorf("approval: empty target")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ApprovalID: "a_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Kind:       kind,
		Target:     target,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.writeAtomic(rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get fetches an approval by id.
func (s *Store) Get(id string) (*Record, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("approval: invalid id %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// Decide resolves a PENDING approval. Deciding an already-decided approval
// is a no-op that returns the current record.
func (s *Store) Decide(id string, decision Status, decidedBy, notes string) (*Record, error) {
	if decision != StatusApproved && decision != StatusDenied {
		return nil, fmt.Errorf("approval: invalid decision %q", decision)
	}
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("approval: invalid id %q", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return rec, nil
	}

	now := time.Now().UTC()
	rec.Status = decision
	rec.DecidedAt = &now
	rec.DecidedBy = decidedBy
	rec.Notes = notes
	if err := s.writeAtomic(*rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns approvals newest first, optionally filtered by status and
// kind, capped at limit (100 when zero).
func (s *Store) List(status Status, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ApprovalID < records[j].ApprovalID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// IsApproved reports whether kind/target has an APPROVED record.
func (s *Store) IsApproved(kind Kind, target string) (bool, error) {
	records, err := s.List(StatusApproved, kind, 0)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.Target == target {
			return true, nil
		}
	}
	return false, nil
}

// FindPending returns an existing PENDING request for kind/target, or nil.
// Used to avoid piling up duplicate requests for the same source.
func (s *Store) FindPending(kind Kind, target string) (*Record, error) {
	records, err := s.List(StatusPending, kind, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Target == target {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (s *Store) read(id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("approval: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("approval: parse %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) writeAtomic(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, rec.ApprovalID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
