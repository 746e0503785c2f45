package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const maxFetchedBytes int64 = 5 << 20

// Summarizer condenses fetched page text; GeminiSummarizer is the production
// implementation.
type Summarizer interface {
	Summarize(ctx context.Context, pageText string) (string, error)
}

// WebSummarizer implements PageFetcher: size-limited HTTP fetch over a
// restricted client, crude HTML-to-text reduction, then delegation to the
// Summarizer.
type WebSummarizer struct {
	client     *http.Client
	summarizer Summarizer
}

func NewWebSummarizer(base *http.Client, summarizer Summarizer) *WebSummarizer {
	return &WebSummarizer{
		client:     newRestrictedHTTPClient(base),
		summarizer: summarizer,
	}
}

func (w *WebSummarizer) FetchAndSummarize(ctx context.Context, url string, progress ProgressFunc) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "livebridge/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	body, err := readBodyLimited(resp.Body, maxFetchedBytes)
	if err != nil {
		return "", "", err
	}

	title, text := extractPageText(string(body))
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("page has no readable text")
	}

	progress("summarizing", "Summarizing page content")
	summary, err := w.summarizer.Summarize(ctx, text)
	if err != nil {
		return "", "", err
	}
	return summary, title, nil
}

// newRestrictedHTTPClient blocks private and loopback dial targets so a
// model-chosen URL cannot probe the relay's network.
func newRestrictedHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	out := *base
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		ForceAttemptHTTP2: true,
		MaxIdleConns:      16,
		IdleConnTimeout:   60 * time.Second,
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(address)
			if err != nil {
				return nil, err
			}
			ip, err := resolvePublicIP(ctx, host)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
	}
	out.Transport = transport
	out.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) > 5 {
			return fmt.Errorf("redirect limit exceeded")
		}
		return nil
	}
	return &out
}

func resolvePublicIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if err := validatePublicIP(ip); err != nil {
			return nil, err
		}
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("dns resolution returned no records")
	}
	for _, rec := range addrs {
		if err := validatePublicIP(rec.IP); err != nil {
			return nil, err
		}
	}
	return addrs[0].IP, nil
}

func validatePublicIP(ip net.IP) error {
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("target resolves to a restricted address")
	}
	return nil
}

func readBodyLimited(body io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: body, N: limit + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("page exceeds maximum size %d bytes", limit)
	}
	return b, nil
}

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	dropRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>|<noscript[^>]*>.*?</noscript>|<svg[^>]*>.*?</svg>|<head[^>]*>.*?</head>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacesRe = regexp.MustCompile(`[ \t]+`)
	linesRe  = regexp.MustCompile(`\n{3,}`)
)

// extractPageText is a deliberately crude HTML reduction: strip non-content
// elements and tags, collapse whitespace. Good enough as summarizer input.
func extractPageText(html string) (title, text string) {
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		title = strings.TrimSpace(tagRe.ReplaceAllString(m[1], " "))
	}
	text = dropRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = spacesRe.ReplaceAllString(text, " ")
	text = linesRe.ReplaceAllString(text, "\n\n")
	return title, strings.TrimSpace(text)
}
