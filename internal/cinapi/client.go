// Package cinapi is the HTTP client for the CIN recognition and persistence service.
package cinapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/logger"
)

// Client talks to the collaborator service.
type Client struct {
	URL        string
	parsedURL  *url.URL
	httpClient *http.Client
	captureDir string
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = logger.OrNop(l)
	}
}

// New creates a client for the service at rawURL.
func New(rawURL string, opts ...Option) (*Client, error) {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if rawURL == "" {
		return nil, errors.New("service URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid service URL scheme %q", parsed.Scheme)
	}

	c := &Client{
		URL:        rawURL,
		parsedURL:  parsed,
		httpClient: &http.Client{Timeout: constants.DefaultRequestTimeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveURL builds a full URL from the base URL and the given path segments.
// If the last segment contains a query string (e.g. "documents/db?skip=0"), it is
// split so JoinPath only receives the path portion and the query is appended.
func (c *Client) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return c.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := c.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// SetCaptureDir enables response capturing to the specified directory.
// Pass an empty string to disable capturing.
func (c *Client) SetCaptureDir(dir string) error {
	if dir == "" {
		c.captureDir = ""
		return nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("could not create capture directory: %w", err)
	}
	c.captureDir = dir
	return nil
}

// captureResponse saves the response body to a file if capturing is enabled.
func (c *Client) captureResponse(endpoint string, body []byte) {
	if c.captureDir == "" {
		return
	}

	name, _, _ := strings.Cut(endpoint, "?")
	name = strings.Trim(strings.ReplaceAll(name, "/", "_"), "_")
	if name == "" {
		name = "root"
	}
	path := filepath.Join(c.captureDir, fmt.Sprintf("%s_%s.json", name, time.Now().Format("20060102_150405")))

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		body = pretty.Bytes()
	}

	if err := os.WriteFile(path, body, 0o600); err != nil {
		c.log.Warn("failed to capture response", zap.String("path", path), zap.Error(err))
	}
}
