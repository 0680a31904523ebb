package listing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
)

const page = `<html><body>
<ul>
  <li><a href="files/FY2019.zip">2019</a></li>
  <li><a href="/usao/file/FY2020.zip">2020</a></li>
  <li><a href="files/readme.pdf">README</a></li>
  <li><a href="https://cdn.example.org/FY2021.zip">2021</a></li>
  <li><a href="files/FY2019.zip">2019 again</a></li>
  <li><a>no href</a></li>
</ul>
</body></html>`

func TestZipLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("user agent %q", got)
		}
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	got, err := ZipLinks(context.Background(), srv.Client(), srv.URL+"/usao/ncd/")
	if err != nil {
		t.Fatalf("ZipLinks: %v", err)
	}
	want := []string{
		srv.URL + "/usao/ncd/files/FY2019.zip",
		srv.URL + "/usao/file/FY2020.zip",
		"https://cdn.example.org/FY2021.zip",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("links:\n got %v\nwant %v", got, want)
	}
}

func TestZipLinks_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := ZipLinks(context.Background(), nil, srv.URL)
	if err == nil || !strings.Contains(err.Error(), "http status 503") || !strings.Contains(err.Error(), "gone fishing") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExtractZipLinks_NoBase(t *testing.T) {
	t.Parallel()

	got, err := ExtractZipLinks(strings.NewReader(`<a href="a.zip"></a><a href="A.ZIP"></a>`), nil)
	if err != nil {
		t.Fatalf("ExtractZipLinks: %v", err)
	}
	// The attribute selector is case-sensitive, like the page's own links.
	if !slices.Equal(got, []string{"a.zip"}) {
		t.Fatalf("links: %v", got)
	}
}

func TestArchiveName(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://host/ncd/")
	tests := map[string]string{
		"https://host/x/FY2020.zip?dl=1":   "FY2020.zip",
		ResolveHref(base, "files/ME.zip"): "ME.zip",
		"plain.zip":                        "plain.zip",
	}
	for in, want := range tests {
		if got := ArchiveName(in); got != want {
			t.Errorf("ArchiveName(%q) = %q, want %q", in, got, want)
		}
	}
}
