package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bridgewarden/bridgewarden/internal/model"
)

const userAgent = "BridgeWarden/0.1"

// maxRedirects bounds redirect chains; every hop re-runs the scheme, host,
// and SSRF checks.
const maxRedirects = 3

var (
	ErrScheme         = errors.New("unsupported URL scheme")
	ErrSSRF           = errors.New("destination resolves to a forbidden address")
	ErrHostNotAllowed = errors.New("host not on allowlist")
)

// WebFetcher fetches http(s) content under SSRF and size constraints.
// AllowLocalhost exempts loopback targets from the SSRF guard for local
// development; it is off by default.
type WebFetcher struct {
	Timeout        time.Duration
	MaxBytes       int64
	AllowedHosts   []string
	Resolver       Resolver
	AllowLocalhost bool
}

// HostAllowed reports whether host is on the fetcher's allowlist.
// An empty allowlist admits nothing.
func (w *WebFetcher) HostAllowed(host string) bool {
	host = normalizeHost(host)
	for _, allowed := range w.AllowedHosts {
		if normalizeHost(allowed) == host {
			return true
		}
	}
	return false
}

// Fetch retrieves a URL, following at most maxRedirects redirects with the
// same checks at every hop, and returns at most maxBytes bytes.
func (w *WebFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, model.Source, error) {
	canonical := NormalizeRawURL(rawURL)
	u, err := url.Parse(canonical)
	if err != nil {
		return nil, webSource(rawURL, ""), fmt.Errorf("fetch: parse url: %w", err)
	}
	src := webSource(rawURL, normalizeHost(u.Hostname()))

	if err := w.checkHop(ctx, u); err != nil {
		return nil, src, err
	}

	limit := w.MaxBytes
	if maxBytes > 0 && (limit <= 0 || maxBytes < limit) {
		limit = maxBytes
	}
	if limit <= 0 {
		limit = 1 << 20
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("fetch: too many redirects")
			}
			return w.checkHop(req.Context(), req.URL)
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, src, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		// Surface policy errors raised inside the redirect hook.
		for _, sentinel := range []error{ErrScheme, ErrSSRF, ErrHostNotAllowed} {
			if errors.Is(err, sentinel) {
				return nil, src, sentinel
			}
		}
		return nil, src, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, src, fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, src, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, src, ErrSizeExceeded
	}
	return data, src, nil
}

// checkHop enforces scheme, allowlist, and SSRF policy for one request hop.
func (w *WebFetcher) checkHop(ctx context.Context, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrScheme
	}
	host := u.Hostname()
	if !w.HostAllowed(host) {
		return ErrHostNotAllowed
	}
	if SSRFRisk(ctx, host, w.Resolver, w.AllowLocalhost) {
		return ErrSSRF
	}
	return nil
}

func webSource(rawURL, domain string) model.Source {
	return model.Source{Kind: model.SourceWeb, URL: rawURL, Domain: domain}
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// NormalizeRawURL rewrites common code-hosting viewer URLs to their raw
// counterparts so a fetch does not bounce through an HTML shell:
// github blob/raw pages go to raw.githubusercontent.com, gitlab /-/blob/
// becomes /-/raw/, and bitbucket src becomes raw.
func NormalizeRawURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := normalizeHost(u.Hostname())
	parts := splitPath(u.Path)

	if host == "github.com" && len(parts) >= 5 && (parts[2] == "blob" || parts[2] == "raw") {
		tail := strings.Join(parts[4:], "/")
		if tail != "" {
			return fmt.Sprintf("%s://raw.githubusercontent.com/%s/%s/%s/%s",
				u.Scheme, parts[0], parts[1], parts[3], tail)
		}
	}

	// GitLab-style /-/blob/<ref>/<path> anywhere in the path.
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "-" && (parts[i+1] == "blob" || parts[i+1] == "raw") {
			rebuilt := append(append([]string{}, parts[:i]...), "-", "raw")
			rebuilt = append(rebuilt, parts[i+2:]...)
			u.Path = "/" + strings.Join(rebuilt, "/")
			u.RawQuery, u.Fragment = "", ""
			return u.String()
		}
	}

	if host == "bitbucket.org" && len(parts) >= 4 && (parts[2] == "src" || parts[2] == "raw") {
		rebuilt := append([]string{parts[0], parts[1], "raw"}, parts[3:]...)
		u.Path = "/" + strings.Join(rebuilt, "/")
		u.RawQuery, u.Fragment = "", ""
		return u.String()
	}

	return rawURL
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
