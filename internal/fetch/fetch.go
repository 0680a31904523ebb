// Package fetch downloads archives over HTTP with retry and backoff.
//
// Network errors, 5xx and 429 responses are retried with exponential
// backoff (429 honours Retry-After). Any other non-2xx status fails at once.
// Every attempt is reported through metrics.RecordHTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ncd/internal/metrics"
)

// StatusError is a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Downloader fetches URLs into a directory. The zero value is usable.
type Downloader struct {
	Client      *http.Client
	MaxAttempts int           // default 5
	BaseBackoff time.Duration // default 2s
	MaxBackoff  time.Duration // default 60s
	// Job labels the HTTP metrics.
	Job string
	// Sleep waits between attempts; it returns ctx.Err() when cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d *Downloader) withDefaults() Downloader {
	c := *d
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Job == "" {
		c.Job = "ncd"
	}
	return c
}

// Download saves rawURL into dir under the URL's base name and returns the
// file path. The file appears atomically; partial downloads are removed.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	c := d.withDefaults()

	name, err := fileName(rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("download dir: %w", err)
	}
	dst := filepath.Join(dir, name)

	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		lastErr = c.attempt(ctx, rawURL, dst)
		if lastErr == nil {
			return dst, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var se *StatusError
		if errors.As(lastErr, &se) && !se.Temporary() {
			return "", lastErr
		}
		if attempt == c.MaxAttempts {
			break
		}
		if err := c.Sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("download %s: giving up after %d attempts: %w", rawURL, c.MaxAttempts, lastErr)
}

func (c Downloader) attempt(ctx context.Context, rawURL, dst string) error {
	start := time.Now()
	status, reqDur, size := 0, time.Duration(-1), int64(-1)
	var err error
	defer func() {
		metrics.RecordHTTP(c.Job, status, err, reqDur, time.Since(start), size)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	reqDur = time.Since(start)
	status = resp.StatusCode

	if status < 200 || status >= 300 {
		size, _ = io.Copy(io.Discard, resp.Body)
		err = &StatusError{URL: rawURL, StatusCode: status, retryAfter: parseRetryAfter(resp.Header)}
		return err
	}
	size, err = writeFileAtomic(dst, resp.Body)
	return err
}

// backoff is BaseBackoff * 2^(attempt-1) capped at MaxBackoff; a 429 with
// Retry-After waits exactly that long.
func (c Downloader) backoff(attempt int, err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests && se.retryAfter > 0 {
		return se.retryAfter
	}
	d := c.BaseBackoff << uint(attempt-1)
	if d <= 0 || d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("download url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("download url %q has no file name", rawURL)
	}
	return name, nil
}

func writeFileAtomic(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = os.Rename(tmp.Name(), dst)
	}
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return n, copyErr
	}
	return n, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
