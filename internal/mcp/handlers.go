package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bridgewarden/bridgewarden/internal/approval"
	"github.com/bridgewarden/bridgewarden/internal/fetch"
	"github.com/bridgewarden/bridgewarden/internal/model"
	"github.com/bridgewarden/bridgewarden/internal/quarantine"
)

// --- Input/Output types ---

// ReadFileInput defines parameters for the bw_read_file tool.
type ReadFileInput struct {
	Path   string `json:"path" jsonschema:"path relative to the configured base directory"`
	RepoID string `json:"repo_id,omitempty" jsonschema:"read from a previously fetched repo (unsupported)"`
	Mode   string `json:"mode,omitempty" jsonschema:"safe (default)"`
}

// WebFetchInput defines parameters for the bw_web_fetch tool.
type WebFetchInput struct {
	URL      string `json:"url" jsonschema:"http(s) URL to fetch"`
	Mode     string `json:"mode,omitempty" jsonschema:"readable_text (default) or raw_text"`
	MaxBytes int64  `json:"max_bytes,omitempty" jsonschema:"response size cap, bounded by config"`
}

// FetchRepoInput defines parameters for the bw_fetch_repo tool.
type FetchRepoInput struct {
	URL              string   `json:"url" jsonschema:"https repository URL"`
	Ref              string   `json:"ref,omitempty" jsonschema:"branch, tag, or commit (default HEAD)"`
	Depth            int      `json:"depth,omitempty" jsonschema:"accepted for compatibility; archive fetches are always full"`
	IncludePaths     []string `json:"include_paths,omitempty" jsonschema:"path prefixes to scan"`
	ExcludePaths     []string `json:"exclude_paths,omitempty" jsonschema:"path prefixes to skip"`
	BaselineRevision string   `json:"baseline_revision,omitempty" jsonschema:"previously fetched revision to diff against"`
}

// FetchRepoOutput is the repo manifest, or block details when policy
// refused the fetch.
type FetchRepoOutput struct {
	RepoID        string                `json:"repo_id,omitempty"`
	NewRevision   string                `json:"new_revision,omitempty"`
	ChangedFiles  []map[string]string   `json:"changed_files"`
	Summary       fetch.RepoSummary     `json:"summary"`
	Findings      []fetch.FileFinding   `json:"findings"`
	QuarantineIDs []string              `json:"quarantine_ids"`
	Reasons       []string              `json:"reasons,omitempty"`
	ApprovalID    string                `json:"approval_id,omitempty"`
	Source        model.Source          `json:"source"`
}

// QuarantineGetInput identifies a quarantine record.
type QuarantineGetInput struct {
	ID string `json:"id" jsonschema:"quarantine id (q_ followed by 16 hex digits)"`
}

// RequestApprovalInput wraps a new approval request.
type RequestApprovalInput struct {
	Request ApprovalRequest `json:"request"`
}

// ApprovalRequest names the source to approve.
type ApprovalRequest struct {
	Kind   string `json:"kind" jsonschema:"web_domain, repo_url, or upstream_mcp_server"`
	Target string `json:"target" jsonschema:"the domain, URL, or server being requested"`
}

// GetApprovalInput identifies an approval record.
type GetApprovalInput struct {
	ApprovalID string `json:"approval_id"`
}

// ListApprovalsInput filters the approval listing.
type ListApprovalsInput struct {
	Status string `json:"status,omitempty" jsonschema:"PENDING, APPROVED, or DENIED"`
	Kind   string `json:"kind,omitempty" jsonschema:"web_domain, repo_url, or upstream_mcp_server"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum records (default 100)"`
}

// ListApprovalsOutput holds the filtered records.
type ListApprovalsOutput struct {
	Approvals []approval.Record `json:"approvals"`
}

// DecideApprovalInput resolves a pending approval.
type DecideApprovalInput struct {
	ApprovalID string `json:"approval_id"`
	Decision   string `json:"decision" jsonschema:"APPROVED or DENIED"`
	Notes      string `json:"notes,omitempty"`
	DecidedBy  string `json:"decided_by,omitempty"`
}

// --- Handlers ---

func (s *Server) handleReadFile(ctx context.Context, req *mcpsdk.CallToolRequest, input ReadFileInput) (*mcpsdk.CallToolResult, model.GuardResult, error) {
	if input.RepoID != "" {
		return nil, model.GuardResult{}, fmt.Errorf("repo_id reads are not supported; use bw_fetch_repo findings instead")
	}
	if input.Mode != "" && input.Mode != "safe" {
		return nil, model.GuardResult{}, fmt.Errorf("invalid mode %q", input.Mode)
	}

	data, src, err := s.files.Fetch(input.Path)
	src.RequestID = requestID()
	switch {
	case err == nil:
	case errors.Is(err, fetch.ErrPathEscape):
		return nil, model.GuardResult{}, fmt.Errorf("path escapes base directory")
	case errors.Is(err, fetch.ErrNotFound):
		return blockedResult(s.guard.Blocked(src, model.ReasonFileNotFound, ""))
	case errors.Is(err, fetch.ErrSizeExceeded):
		return blockedResult(s.guard.Blocked(src, model.ReasonSizeExceeded, ""))
	default:
		return blockedResult(s.guard.Blocked(src, model.ReasonFetchFailed, ""))
	}

	result := s.guard.Scan(data, src)
	return guardResult(result)
}

func (s *Server) handleWebFetch(ctx context.Context, req *mcpsdk.CallToolRequest, input WebFetchInput) (*mcpsdk.CallToolResult, model.GuardResult, error) {
	mode := input.Mode
	if mode == "" {
		mode = "readable_text"
	}
	if mode != "readable_text" && mode != "raw_text" {
		return nil, model.GuardResult{}, fmt.Errorf("invalid mode %q", mode)
	}
	if input.MaxBytes < 0 {
		return nil, model.GuardResult{}, fmt.Errorf("max_bytes must be positive")
	}

	parsed, err := url.Parse(input.URL)
	if err != nil {
		return nil, model.GuardResult{}, fmt.Errorf("invalid url: %v", err)
	}
	domain := strings.ToLower(parsed.Hostname())
	src := model.Source{
		Kind:      model.SourceWeb,
		URL:       input.URL,
		Domain:    domain,
		RequestID: requestID(),
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return blockedResult(s.guard.Blocked(src, model.ReasonUnsupportedURLScheme, ""))
	}
	if !s.cfg.Network.Enabled {
		return blockedResult(s.guard.Blocked(src, model.ReasonNetworkDisabled, ""))
	}
	// Literal IPs and localhost are classified without DNS; hostnames get
	// the full resolve-and-check at fetch time, after the approval gate.
	if fetch.LiteralSSRFRisk(domain, s.cfg.Network.AllowLocalhost) {
		return blockedResult(s.guard.Blocked(src, model.ReasonSSRFBlocked, ""))
	}

	// The network allowlist pre-approves hosts; anything else needs a
	// source approval when approvals are required, and is refused flat
	// when they are not.
	preapproved := s.domainPreapproved(domain) || s.web.HostAllowed(domain)
	if !preapproved && !s.cfg.Approvals.RequireApproval {
		return blockedResult(s.guard.Blocked(src, model.ReasonHostNotAllowed, ""))
	}
	if blocked, result := s.requireApproval(approval.KindWebDomain, domain, preapproved, src); blocked {
		return blockedResult(result)
	}

	// Approved hosts join the allowlist for this request so the per-hop
	// checks admit them; redirects to other hosts still fail. Raw-URL
	// canonicalization may move the fetch to a sibling host (github.com →
	// raw.githubusercontent.com), which rides on the same approval.
	web := *s.web
	web.AllowedHosts = append(append([]string{}, web.AllowedHosts...), domain)
	if canonical, err := url.Parse(fetch.NormalizeRawURL(input.URL)); err == nil {
		if h := strings.ToLower(canonical.Hostname()); h != "" && h != domain {
			web.AllowedHosts = append(web.AllowedHosts, h)
		}
	}

	release := s.acquireFetchSlot(ctx)
	defer release()

	data, src2, err := web.Fetch(ctx, input.URL, input.MaxBytes)
	src2.RequestID = src.RequestID
	if err != nil {
		return blockedResult(s.guard.Blocked(src2, fetchReason(err), ""))
	}

	if mode == "readable_text" {
		data = []byte(fetch.ExtractReadable(data))
	}
	result := s.guard.Scan(data, src2)
	return guardResult(result)
}

func (s *Server) handleFetchRepo(ctx context.Context, req *mcpsdk.CallToolRequest, input FetchRepoInput) (*mcpsdk.CallToolResult, FetchRepoOutput, error) {
	parsed, err := url.Parse(input.URL)
	if err != nil {
		return nil, FetchRepoOutput{}, fmt.Errorf("invalid url: %v", err)
	}
	host := strings.ToLower(parsed.Hostname())
	src := model.Source{Kind: model.SourceRepo, URL: input.URL, RequestID: requestID()}

	if !s.cfg.Network.Enabled {
		return blockedRepo(s, src, model.ReasonNetworkDisabled, "")
	}
	if fetch.LiteralSSRFRisk(host, s.cfg.Network.AllowLocalhost) {
		return blockedRepo(s, src, model.ReasonSSRFBlocked, "")
	}

	preapproved := s.repos.Web.HostAllowed(host)
	for _, allowed := range s.cfg.Approvals.AllowedRepoURLs {
		if allowed == input.URL {
			preapproved = true
			break
		}
	}
	if !preapproved && !s.cfg.Approvals.RequireApproval {
		return blockedRepo(s, src, model.ReasonHostNotAllowed, "")
	}
	if blocked, result := s.requireApproval(approval.KindRepoURL, input.URL, preapproved, src); blocked {
		out := FetchRepoOutput{
			ChangedFiles:  []map[string]string{},
			Findings:      []fetch.FileFinding{},
			QuarantineIDs: []string{},
			Reasons:       result.Reasons,
			ApprovalID:    result.ApprovalID,
			Source:        src,
		}
		out.Summary.Blocked = 1
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	// Approved hosts (and their archive hosts) join the allowlist for
	// this request.
	repos := *s.repos
	web := *repos.Web
	web.AllowedHosts = append(append([]string{}, web.AllowedHosts...), host)
	if archiveHost := fetch.ArchiveHost(input.URL); archiveHost != "" {
		web.AllowedHosts = append(web.AllowedHosts, archiveHost)
	}
	repos.Web = &web

	release := s.acquireFetchSlot(ctx)
	defer release()

	res, err := repos.Fetch(ctx, input.URL, input.Ref, input.IncludePaths, input.ExcludePaths, input.BaselineRevision)
	if err != nil {
		return blockedRepo(s, src, fetchReason(err), "")
	}

	changed := make([]map[string]string, 0, len(res.ChangedFiles))
	for _, c := range res.ChangedFiles {
		changed = append(changed, map[string]string{"path": c.Path, "status": c.Status})
	}
	return nil, FetchRepoOutput{
		RepoID:        res.RepoID,
		NewRevision:   res.NewRevision,
		ChangedFiles:  changed,
		Summary:       res.Summary,
		Findings:      res.Findings,
		QuarantineIDs: res.QuarantineIDs,
		Source:        src,
	}, nil
}

func (s *Server) handleQuarantineGet(ctx context.Context, req *mcpsdk.CallToolRequest, input QuarantineGetInput) (*mcpsdk.CallToolResult, quarantine.View, error) {
	view, err := s.quarantine.GetView(input.ID, 0)
	if err != nil {
		return nil, quarantine.View{}, err
	}
	return nil, *view, nil
}

func (s *Server) handleRequestApproval(ctx context.Context, req *mcpsdk.CallToolRequest, input RequestApprovalInput) (*mcpsdk.CallToolResult, approval.Record, error) {
	kind, err := parseKind(input.Request.Kind)
	if err != nil {
		return nil, approval.Record{}, err
	}
	if existing, err := s.approvals.FindPending(kind, input.Request.Target); err == nil && existing != nil {
		return nil, *existing, nil
	}
	rec, err := s.approvals.Request(kind, input.Request.Target)
	if err != nil {
		return nil, approval.Record{}, err
	}
	return nil, *rec, nil
}

func (s *Server) handleGetApproval(ctx context.Context, req *mcpsdk.CallToolRequest, input GetApprovalInput) (*mcpsdk.CallToolResult, approval.Record, error) {
	rec, err := s.approvals.Get(input.ApprovalID)
	if err != nil {
		return nil, approval.Record{}, err
	}
	return nil, *rec, nil
}

func (s *Server) handleListApprovals(ctx context.Context, req *mcpsdk.CallToolRequest, input ListApprovalsInput) (*mcpsdk.CallToolResult, ListApprovalsOutput, error) {
	records, err := s.approvals.List(approval.Status(input.Status), approval.Kind(input.Kind), input.Limit)
	if err != nil {
		return nil, ListApprovalsOutput{}, err
	}
	if records == nil {
		records = []approval.Record{}
	}
	return nil, ListApprovalsOutput{Approvals: records}, nil
}

func (s *Server) handleDecideApproval(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideApprovalInput) (*mcpsdk.CallToolResult, approval.Record, error) {
	rec, err := s.approvals.Decide(input.ApprovalID, approval.Status(input.Decision), input.DecidedBy, input.Notes)
	if err != nil {
		return nil, approval.Record{}, err
	}
	return nil, *rec, nil
}

// --- Helpers ---

// acquireFetchSlot blocks until a fetch slot is free or the request is
// cancelled. The returned release is safe to call either way.
func (s *Server) acquireFetchSlot(ctx context.Context) func() {
	select {
	case s.fetchSem <- struct{}{}:
		return func() { <-s.fetchSem }
	case <-ctx.Done():
		return func() {}
	}
}

// requireApproval applies the source-approval policy for one target. When
// approval is needed and absent, it ensures a PENDING request exists and
// returns the NEW_SOURCE_REQUIRES_APPROVAL block carrying its id.
func (s *Server) requireApproval(kind approval.Kind, target string, preapproved bool, src model.Source) (bool, model.GuardResult) {
	if preapproved || !s.cfg.Approvals.RequireApproval {
		return false, model.GuardResult{}
	}
	if ok, err := s.approvals.IsApproved(kind, target); err == nil && ok {
		return false, model.GuardResult{}
	}

	approvalID := ""
	if existing, err := s.approvals.FindPending(kind, target); err == nil && existing != nil {
		approvalID = existing.ApprovalID
	} else if rec, err := s.approvals.Request(kind, target); err == nil {
		approvalID = rec.ApprovalID
	}
	return true, s.guard.Blocked(src, model.ReasonNewSourceRequiresApproval, approvalID)
}

func (s *Server) domainPreapproved(domain string) bool {
	for _, allowed := range s.cfg.Approvals.AllowedWebDomains {
		if strings.EqualFold(strings.TrimSuffix(allowed, "."), domain) {
			return true
		}
	}
	return false
}

// fetchReason maps fetcher errors to reason codes. Unclassified failures
// (DNS, TLS, timeouts, resets) become FETCH_FAILED.
func fetchReason(err error) string {
	switch {
	case errors.Is(err, fetch.ErrSizeExceeded):
		return model.ReasonSizeExceeded
	case errors.Is(err, fetch.ErrSSRF):
		return model.ReasonSSRFBlocked
	case errors.Is(err, fetch.ErrHostNotAllowed), errors.Is(err, fetch.ErrRepoHost):
		return model.ReasonHostNotAllowed
	case errors.Is(err, fetch.ErrScheme):
		return model.ReasonUnsupportedURLScheme
	default:
		return model.ReasonFetchFailed
	}
}

func blockedRepo(s *Server, src model.Source, reason, approvalID string) (*mcpsdk.CallToolResult, FetchRepoOutput, error) {
	s.guard.Blocked(src, reason, approvalID)
	out := FetchRepoOutput{
		ChangedFiles:  []map[string]string{},
		Findings:      []fetch.FileFinding{},
		QuarantineIDs: []string{},
		Reasons:       []string{reason},
		ApprovalID:    approvalID,
		Source:        src,
	}
	out.Summary.Blocked = 1
	return &mcpsdk.CallToolResult{IsError: true}, out, nil
}

func guardResult(result model.GuardResult) (*mcpsdk.CallToolResult, model.GuardResult, error) {
	if result.Decision == model.Block {
		return &mcpsdk.CallToolResult{IsError: true}, result, nil
	}
	return nil, result, nil
}

func blockedResult(result model.GuardResult) (*mcpsdk.CallToolResult, model.GuardResult, error) {
	return &mcpsdk.CallToolResult{IsError: true}, result, nil
}

func parseKind(kind string) (approval.Kind, error) {
	switch approval.Kind(kind) {
	case approval.KindWebDomain, approval.KindRepoURL, approval.KindUpstreamServer:
		return approval.Kind(kind), nil
	default:
		return "", fmt.Errorf("invalid approval kind %q", kind)
	}
}

func requestID() string {
	return uuid.NewString()
}
