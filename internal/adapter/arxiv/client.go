// Package arxiv searches the public arXiv Atom API for recent papers.
package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"paperqa/internal/apperr"
)

const DefaultBaseURL = "http://export.arxiv.org/api/query"

// Entry is one search result.
type Entry struct {
	ID        string
	Title     string
	Authors   []string
	Summary   string
	Published time.Time
	PDFURL    string
}

type Client struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryBase  time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRetry sets how often throttled requests are retried and the first
// backoff delay.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = maxRetries
		cl.retryBase = base
	}
}

// NewClient issues at most one request per minInterval; arXiv asks API
// users to wait three seconds between calls.
func NewClient(baseURL string, minInterval time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	c := &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: 3,
		retryBase:  2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("arXiv API returned HTTP %d", e.code) }

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// Search returns up to max entries matching topic, newest submission first.
func (c *Client) Search(ctx context.Context, topic string, max int) ([]Entry, error) {
	q := buildQuery(topic)
	if q == "" {
		return nil, apperr.Validation("topic must not be empty")
	}
	if max <= 0 {
		max = 10
	}

	u := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=submittedDate&sortOrder=descending",
		c.baseURL, q, max)

	var feed atomFeed
	fetch := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.fetch(ctx, u, &feed)
		var se *statusError
		if errors.As(err, &se) && retryable(se.code) {
			slog.WarnContext(ctx, "arXiv throttled request, backing off", "status", se.code)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.MaxElapsedTime = 0
	if err := backoff.Retry(fetch, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.External("arxiv search", err)
	}

	entries := make([]Entry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		id := extractID(e.ID)
		if id == "" {
			continue
		}
		entry := Entry{
			ID:      id,
			Title:   collapse(e.Title),
			Summary: collapse(e.Summary),
			PDFURL:  e.pdfURL(),
		}
		for _, a := range e.Authors {
			if name := collapse(a.Name); name != "" {
				entry.Authors = append(entry.Authors, name)
			}
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			entry.Published = t.UTC()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) fetch(ctx context.Context, u string, feed *atomFeed) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode}
	}

	*feed = atomFeed{}
	if err := xml.NewDecoder(resp.Body).Decode(feed); err != nil {
		return fmt.Errorf("parsing arXiv response: %w", err)
	}
	return nil
}

func buildQuery(topic string) string {
	terms := strings.Fields(topic)
	if len(terms) == 0 {
		return ""
	}
	for i, t := range terms {
		terms[i] = url.QueryEscape(t)
	}
	return "all:" + strings.Join(terms, "+")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (e atomEntry) pdfURL() string {
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	return strings.Replace(strings.TrimSpace(e.ID), "/abs/", "/pdf/", 1)
}

// extractID returns the versioned identifier from an entry id URL
// ("http://arxiv.org/abs/2301.07041v1" becomes "2301.07041v1").
func extractID(idURL string) string {
	const prefix = "/abs/"
	idURL = strings.TrimSpace(idURL)
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	return idURL[idx+len(prefix):]
}
