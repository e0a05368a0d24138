package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/authrules/internal/util"
)

const fetchMaxRetries = 3

// fetchSleepFunc is the sleep function used between retries (injectable for tests)
var fetchSleepFunc = time.Sleep

var (
	// ErrTooLarge is returned when a document exceeds the configured size limit
	ErrTooLarge = errors.New("document exceeds size limit")

	// ErrDisallowed is returned when robots.txt forbids fetching a URL
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// RateLimiter paces requests per host
type RateLimiter interface {
	WaitWithDelay(ctx context.Context, rawURL string, additionalDelay time.Duration) error
}

// Fetcher loads document text from a file, stdin or a URL
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker
	limiter    RateLimiter
	stdin      io.Reader
}

// NewFetcher creates a new Fetcher with the given configuration
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, respectRobots bool, httpProxy, httpsProxy, noProxy string) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpProxy, httpsProxy, noProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  maxBytes,
		stdin:     os.Stdin,
	}
	if respectRobots {
		f.robots = util.NewRobotsChecker(util.NormalizeUserAgent(userAgent), f.httpClient)
	}
	return f
}

// SetLimiter paces remote fetches per host
func (f *Fetcher) SetLimiter(l RateLimiter) {
	f.limiter = l
}

// FetchMeta describes the HTTP response a document came from
type FetchMeta struct {
	StatusCode   int    `json:"status_code"`
	ContentType  string `json:"content_type,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ETag         string `json:"etag,omitempty"`
}

// FetchResult contains the loaded text and where it came from
type FetchResult struct {
	Text     string
	Meta     FetchMeta
	FinalURL string // Source after redirects; the path for files, "-" for stdin
}

// Load reads a document. "-" is stdin, http(s) sources are fetched,
// anything else is a file path.
func (f *Fetcher) Load(ctx context.Context, source string) (*FetchResult, error) {
	switch {
	case source == "-":
		text, err := f.readLimited(f.stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return &FetchResult{Text: text, FinalURL: source}, nil

	case isURL(source):
		return f.FetchWithRetry(ctx, source)

	default:
		file, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		defer func() { _ = file.Close() }()
		text, err := f.readLimited(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		return &FetchResult{Text: text, FinalURL: source}, nil
	}
}

// Fetch retrieves document text from the given URL
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/markdown,text/plain;q=0.9,text/html;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	meta := FetchMeta{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	// PDF and other binary formats belong to the converter
	if mediaType, _, err := mime.ParseMediaType(meta.ContentType); err == nil {
		if !strings.HasPrefix(mediaType, "text/") && mediaType != "application/xhtml+xml" {
			return nil, fmt.Errorf("unsupported content type: %s", mediaType)
		}
	}

	text, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &FetchResult{
		Text:     text,
		Meta:     meta,
		FinalURL: resp.Request.URL.String(),
	}, nil
}

// FetchWithRetry checks robots.txt and the rate limit, then fetches with
// exponential backoff on transient failures
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	var delay time.Duration
	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("robots: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
		delay = crawlDelay
	}

	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.WaitWithDelay(ctx, rawURL, delay); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) {
			return nil, err
		}
		if attempt < fetchMaxRetries-1 {
			fetchSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return nil, lastErr
}

// readLimited reads at most maxBytes and fails rather than truncate a document
func (f *Fetcher) readLimited(r io.Reader) (string, error) {
	if f.maxBytes <= 0 {
		body, err := io.ReadAll(r)
		return string(body), err
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}
	return string(body), nil
}

// isRetryableFetchError returns true for 5xx, 429 and transport failures
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "unexpected status: "); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return false
		}
		code, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			return false
		}
		return code == http.StatusTooManyRequests || code >= 500
	}
	return strings.HasPrefix(msg, "fetch: ")
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
