// Package repostate keeps the per-repo scan manifest in SQLite: which
// files a revision contained, their content hashes and decisions, and
// which (content, policy) pairs have been scanned before. The manifest
// backs baseline diffing and cache-hit accounting for repo fetches.
package repostate

import (
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// DB wraps the manifest database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the manifest at path and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repostate: open: %w", err)
	}
	// Single writer; repo fetches serialize on the fetcher.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS files (
	repo_id      TEXT NOT NULL,
	revision     TEXT NOT NULL,
	path         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	decision     TEXT NOT NULL,
	risk_score   REAL NOT NULL,
	PRIMARY KEY (repo_id, revision, path)
);
CREATE TABLE IF NOT EXISTS scans (
	content_hash   TEXT NOT NULL,
	policy_version TEXT NOT NULL,
	decision       TEXT NOT NULL,
	risk_score     REAL NOT NULL,
	PRIMARY KEY (content_hash, policy_version)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repostate: init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the database handle.
func (m *DB) Close() error {
	return m.db.Close()
}

// RecordFile upserts one file's scan outcome for a revision.
func (m *DB) RecordFile(repoID, revision, path, contentHash, decision string, riskScore float64) error {
	_, err := m.db.Exec(`
INSERT INTO files (repo_id, revision, path, content_hash, decision, risk_score)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (repo_id, revision, path)
DO UPDATE SET content_hash = excluded.content_hash,
              decision = excluded.decision,
              risk_score = excluded.risk_score`,
		repoID, revision, path, contentHash, decision, riskScore)
	if err != nil {
		return fmt.Errorf("repostate: record file: %w", err)
	}
	return nil
}

// FileHashes returns path → content hash for one recorded revision.
func (m *DB) FileHashes(repoID, revision string) (map[string]string, error) {
	rows, err := m.db.Query(
		`SELECT path, content_hash FROM files WHERE repo_id = ? AND revision = ?`,
		repoID, revision)
	if err != nil {
		return nil, fmt.Errorf("repostate: list files: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// ChangedFile is one entry of a baseline diff.
type ChangedFile struct {
	Path   string `json:"path"`
	Status string `json:"status"` // added | modified | removed
}

// Diff compares a recorded baseline revision against the new revision's
// path → hash map and returns the changes sorted by path.
func (m *DB) Diff(repoID, baseline string, current map[string]string) ([]ChangedFile, error) {
	old, err := m.FileHashes(repoID, baseline)
	if err != nil {
		return nil, err
	}

	var changes []ChangedFile
	for path, hash := range current {
		prev, ok := old[path]
		switch {
		case !ok:
			changes = append(changes, ChangedFile{Path: path, Status: "added"})
		case prev != hash:
			changes = append(changes, ChangedFile{Path: path, Status: "modified"})
		}
	}
	for path := range old {
		if _, ok := current[path]; !ok {
			changes = append(changes, ChangedFile{Path: path, Status: "removed"})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// SeenScan reports whether (contentHash, policyVersion) was recorded by an
// earlier fetch. Used for cache-hit accounting: the pipeline re-runs
// regardless, since it is deterministic and cheap relative to the fetch.
func (m *DB) SeenScan(contentHash, policyVersion string) (bool, error) {
	var n int
	err := m.db.QueryRow(
		`SELECT COUNT(1) FROM scans WHERE content_hash = ? AND policy_version = ?`,
		contentHash, policyVersion).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("repostate: lookup scan: %w", err)
	}
	return n > 0, nil
}

// RecordScan remembers a (contentHash, policyVersion) outcome.
func (m *DB) RecordScan(contentHash, policyVersion, decision string, riskScore float64) error {
	_, err := m.db.Exec(`
INSERT INTO scans (content_hash, policy_version, decision, risk_score)
VALUES (?, ?, ?, ?)
ON CONFLICT (content_hash, policy_version) DO NOTHING`,
		contentHash, policyVersion, decision, riskScore)
	if err != nil {
		return fmt.Errorf("repostate: record scan: %w", err)
	}
	return nil
}
