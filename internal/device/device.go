// Package device talks to the panel's own HTTP server: pulling the
// document the device currently runs and pushing edited documents back.
// Pulls honor ETag and Last-Modified against a small disk cache so a
// flaky device link degrades to the last known document instead of
// failing outright.
package device

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vuckos/T-display-web-editor/internal/log"
)

// PullResult is the outcome of fetching the device document.
type PullResult struct {
	Body      []byte
	FromCache bool // true when the body came from the disk cache
}

// cacheEntry holds the HTTP cache metadata for the document URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Client fetches and updates one device's document.
type Client struct {
	client   *http.Client
	base     string
	cacheDir string
}

// NewClient returns a client for the device at host. cacheDir is where
// the pull cache lives; it is created on first use.
func NewClient(host string, secure bool, cacheDir string) *Client {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	if cacheDir == "" {
		// Caller should set this explicitly; the relative fallback keeps
		// development runs working without root permissions.
		cacheDir = "./var/device-cache"
	}
	return &Client{
		client:   &http.Client{Timeout: 15 * time.Second},
		base:     scheme + "://" + host,
		cacheDir: cacheDir,
	}
}

// DocumentURL is where the device serves its current document.
func (c *Client) DocumentURL() string {
	return c.base + "/config.json"
}

// updateURL is where the device accepts a replacement document.
func (c *Client) updateURL() string {
	return c.base + "/config"
}

// Pull fetches the device document, honoring ETag and Last-Modified from
// the disk cache. On a network error or a non-OK status the cached body,
// if any, is returned instead.
func (c *Client) Pull(ctx context.Context) (PullResult, error) {
	url := c.DocumentURL()

	cachePath := c.cachePathForURL(url)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return PullResult{}, err
	}

	meta, _ := c.loadCacheMeta(cachePath)
	cachedBody, _ := c.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PullResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	log.Info("device pull start", "url", redactURL(url))

	resp, err := c.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			log.Error("device pull network error, using cached body", err, "url", redactURL(url))
			return PullResult{Body: cachedBody, FromCache: true}, nil
		}
		return PullResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return PullResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := c.saveCache(cachePath, newMeta, body); err != nil {
			// Keep the freshly fetched body even if caching it failed.
			log.Error("device pull cache save failed", err, "url", redactURL(url))
		}

		log.Info("device pull success", "url", redactURL(url), "bytes", len(body), "from_cache", false)
		return PullResult{Body: body, FromCache: false}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return PullResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		log.Info("device pull not modified, using cache", "url", redactURL(url))
		return PullResult{Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			log.Error("device pull non-OK, using cached body", errors.New(resp.Status), "url", redactURL(url), "status", resp.StatusCode)
			return PullResult{Body: cachedBody, FromCache: true}, nil
		}
		return PullResult{}, errors.New(resp.Status)
	}
}

// Push sends a replacement document to the device.
func (c *Client) Push(ctx context.Context, body []byte) error {
	url := c.updateURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("device rejected document: %s", resp.Status)
	}

	log.Info("device push success", "url", redactURL(url), "bytes", len(body))
	return nil
}

func (c *Client) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars are plenty of keyspace for one device.
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func (c *Client) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (c *Client) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func (c *Client) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL trims a device URL down to scheme and host for logging, so
// tokens in paths or query strings never reach the log.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
