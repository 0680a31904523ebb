// Package listing scrapes a DOJ data-file listing page for archive links.
package listing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ZipSelector matches anchors that point at zip archives.
const ZipSelector = `a[href$=".zip"]`

const userAgent = "ncd-import/1.0"

// ZipLinks fetches pageURL and returns the absolute URLs of every linked zip
// archive, deduplicated, in document order. A nil client means
// http.DefaultClient.
func ZipLinks(ctx context.Context, client *http.Client, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("listing url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return ExtractZipLinks(resp.Body, base)
}

// ExtractZipLinks parses an HTML document and returns its zip links resolved
// against base.
func ExtractZipLinks(r io.Reader, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := map[string]bool{}
	var out []string
	doc.Find(ZipSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs := ResolveHref(base, strings.TrimSpace(href))
		if seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	})
	return out, nil
}

// ResolveHref resolves href against base. Invalid hrefs are returned
// unchanged.
func ResolveHref(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// ArchiveName returns the last path segment of a link, e.g.
// "https://host/x/FY2020.zip?dl=1" -> "FY2020.zip".
func ArchiveName(link string) string {
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		link = u.Path
	}
	if i := strings.LastIndex(link, "/"); i >= 0 {
		link = link[i+1:]
	}
	return link
}
