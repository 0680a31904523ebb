package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the dotted config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// knownStorage mirrors the backends registered by internal/storage/all.
// config does not import storage to keep validation free of drivers.
var knownStorage = map[string]bool{"postgres": true, "sqlite": true, "mssql": true, "blobstore": true}

// Validate checks c. requireListing is set by `ncd import`, the only command
// that needs a listing URL.
func (c Config) Validate(requireListing bool) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	kind := strings.ToLower(strings.TrimSpace(c.Storage.Kind))
	switch {
	case kind == "":
		add(SeverityError, "storage.kind", "is required")
	case !knownStorage[kind]:
		add(SeverityError, "storage.kind", "unknown backend %q", c.Storage.Kind)
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "is required")
	}
	if kind == "sqlite" && c.Storage.Database != "" {
		add(SeverityWarning, "storage.database", "ignored by sqlite")
	}

	if c.Load.BatchSize <= 0 {
		add(SeverityError, "load.batch_size", "must be > 0, got %d", c.Load.BatchSize)
	}

	switch c.Metrics.Backend {
	case "", "none":
	case "datadog":
		if c.Metrics.FlushEvery <= 0 {
			add(SeverityWarning, "metrics.flush_every", "not set; backend default applies")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q", c.Metrics.Backend)
	}

	if c.Import.Concurrency <= 0 {
		add(SeverityError, "import.concurrency", "must be > 0, got %d", c.Import.Concurrency)
	}
	if c.Import.MaxAttempts <= 0 {
		add(SeverityError, "import.max_attempts", "must be > 0, got %d", c.Import.MaxAttempts)
	}
	if c.Import.MaxBackoff < c.Import.BaseBackoff {
		add(SeverityWarning, "import.max_backoff", "smaller than base_backoff; every retry waits max_backoff")
	}
	if requireListing {
		if c.Import.ListingURL == "" {
			add(SeverityError, "import.listing_url", "is required")
		} else if u, err := url.Parse(c.Import.ListingURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "import.listing_url", "not an absolute URL: %q", c.Import.ListingURL)
		}
	}
	return issues
}
