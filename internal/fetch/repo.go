package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/bridgewarden/bridgewarden/internal/model"
	"github.com/bridgewarden/bridgewarden/internal/pipeline"
	"github.com/bridgewarden/bridgewarden/internal/repostate"
)

var ErrRepoHost = errors.New("unsupported repository host")

var refCleanRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileFinding is one file's scan outcome in a repo manifest.
type FileFinding struct {
	Path        string   `json:"path"`
	Decision    string   `json:"decision"`
	RiskScore   float64  `json:"risk_score"`
	Reasons     []string `json:"reasons"`
	ContentHash string   `json:"content_hash"`
}

// RepoSummary aggregates per-file decisions.
type RepoSummary struct {
	Total     int `json:"total"`
	Allowed   int `json:"allowed"`
	Warned    int `json:"warned"`
	Blocked   int `json:"blocked"`
	CacheHits int `json:"cache_hits"`
}

// RepoResult is the outcome of one repository fetch and scan.
type RepoResult struct {
	RepoID        string                  `json:"repo_id"`
	NewRevision   string                  `json:"new_revision"`
	ChangedFiles  []repostate.ChangedFile `json:"changed_files"`
	Summary       RepoSummary             `json:"summary"`
	Findings      []FileFinding           `json:"findings"`
	QuarantineIDs []string                `json:"quarantine_ids"`
}

// RepoFetcher streams a repository archive and pushes every file through
// the pipeline. The dedupe key is url@ref: the repo id comes from the URL,
// the revision from the sanitized ref, and the manifest tracks per-file
// content hashes so identical blobs still count as cache hits.
type RepoFetcher struct {
	Web          *WebFetcher
	Guard        *pipeline.Guard
	State        *repostate.DB
	MaxBytes     int64
	MaxFileBytes int64
	MaxFiles     int

	// ArchiveURLFunc overrides archive URL construction; nil means the
	// GitHub codeload layout.
	ArchiveURLFunc func(repoURL, ref string) (string, error)
}

// RepoID derives the stable repo id from its URL.
func RepoID(repoURL string) string {
	h := sha256.Sum256([]byte(repoURL))
	return "r_" + hex.EncodeToString(h[:])[:16]
}

// ArchiveHost returns the host the archive download actually hits, which
// can differ from the repo URL host (github.com serves tarballs from
// codeload.github.com).
func ArchiveHost(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return ""
	}
	host := normalizeHost(u.Hostname())
	if host == "github.com" {
		return "codeload.github.com"
	}
	return host
}

// Fetch downloads the archive for url@ref, scans every regular file under
// the caps, and returns the manifest.
func (r *RepoFetcher) Fetch(ctx context.Context, repoURL, ref string, includePaths, excludePaths []string, baselineRevision string) (*RepoResult, error) {
	repoID := RepoID(repoURL)
	revision := sanitizeRef(ref)

	buildURL := r.ArchiveURLFunc
	if buildURL == nil {
		buildURL = archiveURL
	}
	archiveURL, err := buildURL(repoURL, revision)
	if err != nil {
		return nil, err
	}

	payload, _, err := r.Web.Fetch(ctx, archiveURL, r.MaxBytes)
	if err != nil {
		return nil, err
	}

	result := &RepoResult{
		RepoID:        repoID,
		NewRevision:   revision,
		ChangedFiles:  []repostate.ChangedFile{},
		Findings:      []FileFinding{},
		QuarantineIDs: []string{},
	}
	current := make(map[string]string)

	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fetch: open archive: %w", err)
	}
	defer gz.Close()

	archive := tar.NewReader(gz)
	rootPrefix := ""
	files := 0
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fetch: read archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if rootPrefix == "" {
			if parts := strings.SplitN(header.Name, "/", 2); len(parts) == 2 {
				rootPrefix = parts[0] + "/"
			}
		}
		relPath := path.Clean(strings.TrimPrefix(header.Name, rootPrefix))
		if relPath == "." || relPath == "" || strings.HasPrefix(relPath, "..") {
			continue
		}
		if !pathAllowed(relPath, includePaths, excludePaths) {
			continue
		}
		if files >= r.MaxFiles && r.MaxFiles > 0 {
			break
		}
		files++

		data, truncated, err := readCapped(archive, r.MaxFileBytes)
		if err != nil {
			return nil, fmt.Errorf("fetch: read %s: %w", relPath, err)
		}

		finding := r.scanFile(repoID, revision, repoURL, relPath, data, truncated, result)
		result.Findings = append(result.Findings, finding)
		current[relPath] = finding.ContentHash
	}

	result.Summary.Total = len(result.Findings)
	result.ChangedFiles = r.changedFiles(repoID, baselineRevision, current)
	return result, nil
}

// scanFile runs one file through the pipeline (or flags it oversized) and
// updates the summary counters and manifest.
func (r *RepoFetcher) scanFile(repoID, revision, repoURL, relPath string, data []byte, truncated bool, result *RepoResult) FileFinding {
	if truncated {
		h := sha256.Sum256(data)
		finding := FileFinding{
			Path:        relPath,
			Decision:    string(model.Block),
			RiskScore:   1.0,
			Reasons:     []string{model.ReasonSizeExceeded},
			ContentHash: hex.EncodeToString(h[:]),
		}
		result.Summary.Blocked++
		r.remember(repoID, revision, relPath, finding)
		return finding
	}

	scanned := r.Guard.Scan(data, model.Source{
		Kind:   model.SourceRepo,
		URL:    repoURL,
		Path:   relPath,
		RepoID: repoID,
	})
	finding := FileFinding{
		Path:        relPath,
		Decision:    string(scanned.Decision),
		RiskScore:   scanned.RiskScore,
		Reasons:     scanned.Reasons,
		ContentHash: scanned.ContentHash,
	}

	switch scanned.Decision {
	case model.Allow:
		result.Summary.Allowed++
	case model.Warn:
		result.Summary.Warned++
	default:
		result.Summary.Blocked++
		if scanned.QuarantineID != "" {
			result.QuarantineIDs = append(result.QuarantineIDs, scanned.QuarantineID)
		}
	}

	if r.State != nil {
		if seen, err := r.State.SeenScan(scanned.ContentHash, scanned.PolicyVersion); err == nil && seen {
			result.Summary.CacheHits++
		}
		r.State.RecordScan(scanned.ContentHash, scanned.PolicyVersion, string(scanned.Decision), scanned.RiskScore)
	}
	r.remember(repoID, revision, relPath, finding)
	return finding
}

func (r *RepoFetcher) remember(repoID, revision, relPath string, f FileFinding) {
	if r.State != nil {
		r.State.RecordFile(repoID, revision, relPath, f.ContentHash, f.Decision, f.RiskScore)
	}
}

func (r *RepoFetcher) changedFiles(repoID, baseline string, current map[string]string) []repostate.ChangedFile {
	if r.State != nil && baseline != "" {
		if diff, err := r.State.Diff(repoID, sanitizeRef(baseline), current); err == nil {
			return diff
		}
	}
	changes := make([]repostate.ChangedFile, 0, len(current))
	for p := range current {
		changes = append(changes, repostate.ChangedFile{Path: p, Status: "added"})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// archiveURL builds the tarball download URL. Only GitHub-style hosts are
// supported for now; the host must still pass the repo allowlist.
func archiveURL(repoURL, ref string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("fetch: parse repo url: %w", err)
	}
	if u.Scheme != "https" {
		return "", ErrScheme
	}
	host := normalizeHost(u.Hostname())
	if host != "github.com" {
		return "", ErrRepoHost
	}
	parts := splitPath(u.Path)
	if len(parts) < 2 {
		return "", fmt.Errorf("fetch: invalid repo url %q", repoURL)
	}
	owner := parts[0]
	repo := strings.TrimSuffix(parts[1], ".git")
	return fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", owner, repo, ref), nil
}

// sanitizeRef makes a ref safe for ids and manifest keys.
func sanitizeRef(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	clean := refCleanRe.ReplaceAllString(ref, "_")
	clean = strings.Trim(clean, "._-")
	if clean == "" || clean == "." || clean == ".." {
		return "HEAD"
	}
	if len(clean) > 100 {
		clean = clean[:100]
	}
	return clean
}

func pathAllowed(p string, include, exclude []string) bool {
	if len(include) > 0 && !matchesAny(p, include) {
		return false
	}
	return !matchesAny(p, exclude)
}

func matchesAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// readCapped reads the current archive entry up to max bytes, reporting
// whether the entry was truncated.
func readCapped(r io.Reader, max int64) ([]byte, bool, error) {
	if max <= 0 {
		max = 256 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > max {
		return data[:max], true, nil
	}
	return data, false, nil
}
