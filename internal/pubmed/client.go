// Package pubmed searches NCBI PubMed through the E-utilities API and
// fetches article abstracts, optionally caching them in a bbolt file.
package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/"
	DefaultUserAgent = "GeneLens/1.0"

	// MaxResults caps a single search.
	MaxResults = 200
	batchSize  = 20
)

var (
	ErrInvalidGeneName = errors.New("invalid gene name format")

	geneNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ValidateGeneName accepts names of at least two characters made of
// letters, digits, hyphens and underscores.
func ValidateGeneName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) < 2 || !geneNamePattern.MatchString(name) {
		return ErrInvalidGeneName
	}
	return nil
}

type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	pause     time.Duration
	cache     *Cache
	logger    *zap.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") + "/" }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBatchPause sets the delay between efetch batches (default 1s).
func WithBatchPause(d time.Duration) Option {
	return func(c *Client) { c.pause = d }
}

func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		http:      &http.Client{Timeout: 60 * time.Second},
		userAgent: DefaultUserAgent,
		pause:     time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResult struct {
	IDs    []string `xml:"IdList>Id"`
	Errors []string `xml:"ErrorList>PhraseNotFound"`
}

// Search returns PubMed ids for articles of the last ten years mentioning
// the gene, sorted by relevance.
func (c *Client) Search(ctx context.Context, gene string, maxResults int) ([]string, error) {
	if err := ValidateGeneName(gene); err != nil {
		return nil, err
	}
	gene = strings.TrimSpace(gene)
	if maxResults <= 0 || maxResults > MaxResults {
		maxResults = MaxResults
	}

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", fmt.Sprintf(`(%s[Title/Abstract] OR %s[Gene Name]) AND ("last 10 years"[PDat])`, gene, gene))
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("retmode", "xml")
	q.Set("sort", "relevance")

	body, err := c.get(ctx, "esearch.fcgi", q)
	if err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}
	var res searchResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("pubmed search: decode: %w", err)
	}
	for _, phrase := range res.Errors {
		c.logger.Warn("pubmed phrase not found", zap.String("phrase", phrase))
	}
	c.logger.Info("pubmed search", zap.String("gene", gene), zap.Int("found", len(res.IDs)))
	return res.IDs, nil
}

// Fetch returns the articles for pmids, in input order where available.
// Cached articles are served locally. A failed batch is logged and skipped,
// as is any article that cannot be parsed.
func (c *Client) Fetch(ctx context.Context, pmids []string) ([]Article, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	found := make(map[string]Article, len(pmids))
	var missing []string
	for _, id := range pmids {
		if c.cache != nil {
			if a, ok := c.cache.Get(id); ok {
				found[id] = a
				continue
			}
		}
		missing = append(missing, id)
	}
	if hits := len(pmids) - len(missing); hits > 0 {
		c.logger.Debug("pubmed cache hits", zap.Int("hits", hits))
	}

	batches := (len(missing) + batchSize - 1) / batchSize
	for b := 0; b < batches; b++ {
		if b > 0 && c.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pause):
			}
		}
		lo := b * batchSize
		hi := min(lo+batchSize, len(missing))
		articles, err := c.fetchBatch(ctx, missing[lo:hi])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Error("pubmed batch failed", zap.Int("batch", b+1), zap.Int("batches", batches), zap.Error(err))
			continue
		}
		for _, a := range articles {
			found[a.PMID] = a
		}
		if c.cache != nil {
			if err := c.cache.Put(articles...); err != nil {
				c.logger.Warn("pubmed cache write failed", zap.Error(err))
			}
		}
	}

	out := make([]Article, 0, len(found))
	for _, id := range pmids {
		if a, ok := found[id]; ok {
			out = append(out, a)
			delete(found, id)
		}
	}
	c.logger.Info("pubmed fetch", zap.Int("requested", len(pmids)), zap.Int("fetched", len(out)))
	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, ids []string) ([]Article, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", q)
	if err != nil {
		return nil, err
	}
	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]Article, 0, len(set.Articles))
	for _, x := range set.Articles {
		a, err := x.toArticle()
		if err != nil {
			c.logger.Warn("skipping unparsable article", zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", endpoint, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
