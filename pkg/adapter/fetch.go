package adapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/m-mizutani/goerr/v2"
	"github.com/temoto/robotstxt"
)

var (
	ErrRobotsDisallowed  = goerr.New("fetch disallowed by robots.txt")
	ErrUnsuitableContent = goerr.New("unsuitable content type")
)

var reWhitespace = regexp.MustCompile(`\s+`)

// strippedSelectors are page chrome removed before extracting visible text.
const strippedSelectors = "script,style,nav,header,footer,noscript,iframe,aside"

// robotsCacheTTL bounds how long a per-host robots.txt result is kept,
// so a transient robots.txt failure never blocks a host indefinitely.
const robotsCacheTTL = time.Hour

// robotsEntry caches one host's parsed robots.txt. A nil data means
// "no usable robots.txt", which allows everything.
type robotsEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// Fetcher retrieves web pages with bounded timeouts, robots.txt
// politeness, and a response size cap.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64

	mu     sync.Mutex
	robots map[string]robotsEntry // keyed by scheme://host
}

type FetcherOption func(*Fetcher)

func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.client.Timeout = d
	}
}

func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "finwatch/1.0 (+https://github.com/finwatch/finwatch)",
		maxBytes:  5 * 1024 * 1024,
		robots:    make(map[string]robotsEntry),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FetchHTML retrieves the raw body of an HTML (or plain-text) page.
// Non-2xx responses and unsuitable content types are errors; callers
// treat every error as a recoverable per-URL failure.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid URL", goerr.V("url", rawURL))
	}

	if allowed := f.robotsAllowed(ctx, u); !allowed {
		return nil, goerr.Wrap(ErrRobotsDisallowed, "skipping fetch", goerr.V("url", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request", goerr.V("url", rawURL))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch", goerr.V("url", rawURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, goerr.New("unexpected status",
			goerr.V("url", rawURL), goerr.V("status", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !suitableContentType(contentType) {
		return nil, goerr.Wrap(ErrUnsuitableContent, "skipping fetch",
			goerr.V("url", rawURL), goerr.V("content_type", contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read body", goerr.V("url", rawURL))
	}
	return body, nil
}

// FetchReadable retrieves a page and extracts its visible text:
// readability first for article bodies, falling back to stripping page
// chrome with goquery.
func (f *Fetcher) FetchReadable(ctx context.Context, rawURL string) (string, error) {
	body, err := f.FetchHTML(ctx, rawURL)
	if err != nil {
		return "", err
	}

	pageURL, _ := url.Parse(rawURL)
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		if text := normalizeWhitespace(article.TextContent); text != "" {
			return text, nil
		}
	}

	return VisibleText(body)
}

// VisibleText strips script/style/nav/header/footer elements and
// returns the whitespace-normalized text of the remaining document.
func VisibleText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse HTML")
	}
	doc.Find(strippedSelectors).Remove()

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	return normalizeWhitespace(text), nil
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}

func suitableContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	// Missing Content-Type is treated as HTML; most gov pages set it.
	if ct == "" {
		return true
	}
	for _, ok := range []string{"text/html", "application/xhtml", "text/plain"} {
		if strings.Contains(ct, ok) {
			return true
		}
	}
	return false
}

// robotsAllowed checks the host's robots.txt, caching the parsed result
// per host with a TTL. Errors fetching or parsing robots.txt fail open.
func (f *Fetcher) robotsAllowed(ctx context.Context, u *url.URL) bool {
	host := u.Scheme + "://" + u.Host

	f.mu.Lock()
	entry, ok := f.robots[host]
	f.mu.Unlock()

	if !ok || time.Now().After(entry.expires) {
		entry = robotsEntry{
			data:    f.loadRobots(ctx, host),
			expires: time.Now().Add(robotsCacheTTL),
		}
		f.mu.Lock()
		f.robots[host] = entry
		f.mu.Unlock()
	}

	if entry.data == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return entry.data.FindGroup(f.userAgent).Test(path)
}

// loadRobots returns the host's parsed robots.txt, or nil when none is
// usable. Only a successfully served robots.txt restricts fetching:
// missing files, server errors and unreadable bodies all allow
// everything, so a broken robots.txt endpoint cannot silence a source.
func (f *Fetcher) loadRobots(ctx context.Context, host string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data
}
