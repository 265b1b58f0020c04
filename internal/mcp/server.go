// Package mcp exposes the BridgeWarden tools over an MCP stdio server:
// one line-delimited JSON-RPC message per request, every untrusted byte
// forced through the inspection pipeline before it reaches the client.
package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bridgewarden/bridgewarden/internal/approval"
	"github.com/bridgewarden/bridgewarden/internal/audit"
	"github.com/bridgewarden/bridgewarden/internal/config"
	"github.com/bridgewarden/bridgewarden/internal/fetch"
	"github.com/bridgewarden/bridgewarden/internal/pipeline"
	"github.com/bridgewarden/bridgewarden/internal/policy"
	"github.com/bridgewarden/bridgewarden/internal/quarantine"
	"github.com/bridgewarden/bridgewarden/internal/repostate"
)

// maxConcurrentFetches bounds in-flight network fetches per process.
// Excess requests queue on the semaphore rather than being rejected.
const maxConcurrentFetches = 8

// Server wires the pipeline, stores, and fetchers behind the bw_* tools.
type Server struct {
	cfg        config.Config
	configPath string
	fetchSem   chan struct{}

	holder     *policy.Holder
	guard      *pipeline.Guard
	quarantine *quarantine.Store
	approvals  *approval.Store
	auditLog   *audit.Log
	repoState  *repostate.DB

	files *fetch.FileFetcher
	web   *fetch.WebFetcher
	repos *fetch.RepoFetcher

	mcpServer *mcpsdk.Server
}

// New builds a server from configuration: policy snapshot, data-dir
// stores, fetchers, and the MCP tool registry.
func New(cfg config.Config, configPath string) (*Server, error) {
	snap, err := policy.LoadSnapshot(cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	holder := policy.NewHolder(snap)

	store, err := quarantine.NewStore(cfg.QuarantineDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open quarantine store: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditLogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	approvals, err := approval.NewStore(cfg.ApprovalsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}

	repoState, err := repostate.Open(filepath.Join(mkdirOr(cfg.ReposDir()), "manifest.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open repo manifest: %w", err)
	}

	guard := pipeline.New(holder, store, auditLog)
	timeout := time.Duration(cfg.Network.TimeoutSeconds * float64(time.Second))

	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		fetchSem:   make(chan struct{}, maxConcurrentFetches),
		holder:     holder,
		guard:      guard,
		quarantine: store,
		approvals:  approvals,
		auditLog:   auditLog,
		repoState:  repoState,
		files: &fetch.FileFetcher{
			Base:     cfg.BaseDir,
			MaxBytes: cfg.Network.WebMaxBytes,
		},
		web: &fetch.WebFetcher{
			Timeout:        timeout,
			MaxBytes:       cfg.Network.WebMaxBytes,
			AllowedHosts:   cfg.Network.AllowedWebHosts,
			AllowLocalhost: cfg.Network.AllowLocalhost,
		},
	}
	s.repos = &fetch.RepoFetcher{
		Web: &fetch.WebFetcher{
			Timeout:        timeout,
			MaxBytes:       cfg.Network.RepoMaxBytes,
			AllowedHosts:   repoAllowlist(cfg),
			AllowLocalhost: cfg.Network.AllowLocalhost,
		},
		Guard:        guard,
		State:        repoState,
		MaxBytes:     cfg.Network.RepoMaxBytes,
		MaxFileBytes: cfg.Network.RepoMaxFileBytes,
		MaxFiles:     cfg.Network.RepoMaxFiles,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "bridgewarden",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// repoAllowlist admits configured repo hosts plus the archive hosts they
// imply, so github.com approval also covers codeload.github.com.
func repoAllowlist(cfg config.Config) []string {
	hosts := append([]string{}, cfg.Network.AllowedRepoHosts...)
	for _, h := range cfg.Network.AllowedRepoHosts {
		if h == "github.com" {
			hosts = append(hosts, "codeload.github.com")
		}
	}
	return hosts
}

func mkdirOr(dir string) string {
	_ = os.MkdirAll(dir, 0o700)
	return dir
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Reload re-reads the config file and swaps in a fresh policy snapshot.
// In-flight scans keep the snapshot they started with.
func (s *Server) Reload() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	snap, err := policy.LoadSnapshot(cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	s.holder.Swap(snap)
	return nil
}

// ConfigPath returns the path the server reloads from.
func (s *Server) ConfigPath() string {
	return s.configPath
}

// Close releases the audit log and repo manifest.
func (s *Server) Close() error {
	var firstErr error
	if err := s.repoState.Close(); err != nil {
		firstErr = err
	}
	if err := s.auditLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// registerTools adds all bridgewarden tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_read_file",
		Description: "Read a local file through the inspection pipeline. Returns a GuardResult with sanitized text; blocked content is quarantined.",
	}, s.handleReadFile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_web_fetch",
		Description: "Fetch a web page through the inspection pipeline. Enforces the host allowlist, SSRF guard, and source approvals.",
	}, s.handleWebFetch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_fetch_repo",
		Description: "Fetch a repository archive and scan every file through the pipeline. Returns a per-file manifest with a summary.",
	}, s.handleFetchRepo)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_quarantine_get",
		Description: "Inspect a quarantined record: redacted original excerpt, sanitized text, reasons, and risk score. Never returns raw secrets.",
	}, s.handleQuarantineGet)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_request_source_approval",
		Description: "Request approval for a new source (web domain, repo URL, or upstream server).",
	}, s.handleRequestApproval)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_get_source_approval",
		Description: "Fetch a source approval record by id.",
	}, s.handleGetApproval)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_list_source_approvals",
		Description: "List source approvals, optionally filtered by status and kind, newest first.",
	}, s.handleListApprovals)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bw_decide_source_approval",
		Description: "Approve or deny a pending source approval request.",
	}, s.handleDecideApproval)
}
