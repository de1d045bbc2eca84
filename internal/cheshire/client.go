// Package cheshire talks to a Cheshire Cat instance: it ingests documents
// into the "rabbit hole" and asks questions over them.
package cheshire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/GeneLens/internal/pubmed"
)

const DefaultURL = "http://localhost:1865"

// DefaultUserID is the conversation the service speaks in.
const DefaultUserID = "ddf3b3c5-5667-42da-ac89-9daa7dcca066"

var ErrUnavailable = errors.New("cheshire cat is not reachable")

type Client struct {
	baseURL     string
	http        *http.Client
	userAgent   string
	userID      string
	uploadPause time.Duration
	logger      *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// WithUploadPause sets the delay between document uploads (default 200ms).
func WithUploadPause(d time.Duration) Option {
	return func(c *Client) { c.uploadPause = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Minute}, // local LLM answers are slow
		userAgent:   "GeneLens/1.0",
		userID:      DefaultUserID,
		uploadPause: 200 * time.Millisecond,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string { return c.baseURL }

// Ping reports whether GET / answers 200 within ten seconds.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// UploadResult counts documents accepted by the rabbit hole.
type UploadResult struct {
	Uploaded int      `json:"uploaded_count"`
	Failed   []string `json:"failed,omitempty"`
}

// Upload sends each article as a markdown text file. Individual failures are
// collected; only an unreachable service is an error.
func (c *Client) Upload(ctx context.Context, articles []pubmed.Article) (UploadResult, error) {
	var res UploadResult
	if !c.Ping(ctx) {
		return res, fmt.Errorf("%w at %s", ErrUnavailable, c.baseURL)
	}

	for i, a := range articles {
		if i > 0 && c.uploadPause > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(c.uploadPause):
			}
		}
		if err := c.uploadOne(ctx, a); err != nil {
			res.Failed = append(res.Failed, a.PMID)
			c.logger.Warn("document upload failed", zap.String("pmid", a.PMID), zap.Error(err))
			continue
		}
		res.Uploaded++
		c.logger.Debug("document uploaded", zap.String("pmid", a.PMID), zap.Int("n", i+1), zap.Int("of", len(articles)))
	}
	if len(res.Failed) > 0 {
		c.logger.Warn("some documents were not uploaded", zap.Strings("pmids", res.Failed))
	}
	return res, nil
}

func (c *Client) uploadOne(ctx context.Context, a pubmed.Article) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.FileName()))
	h.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, a.Markdown()); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rabbithole/", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rabbithole returned %s", resp.Status)
	}
	return nil
}

// Ask posts a question and returns the answer text.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	if !c.Ping(ctx) {
		return "", fmt.Errorf("%w at %s", ErrUnavailable, c.baseURL)
	}
	payload, err := json.Marshal(map[string]string{
		"user_id": c.userID,
		"text":    strings.TrimSpace(question),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ask: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ask: cheshire cat returned %s", resp.Status)
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ask: decode: %w", err)
	}
	if out.Content == "" {
		return "No response received from Cheshire Cat", nil
	}
	return out.Content, nil
}
