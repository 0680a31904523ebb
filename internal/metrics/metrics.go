// Package metrics is a small process-wide facade over a pluggable metrics
// backend. Callers record loader steps, record counts, batches and HTTP
// attempts; the active Backend decides what to do with them. The default
// backend discards everything.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are the dimensions attached to one observation.
type Labels map[string]string

// Backend receives raw observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names understood by backends.
const (
	StepTotal           = "ncd_step_total"
	StepDurationSeconds = "ncd_step_duration_seconds"
	RecordsTotal        = "ncd_records_total"
	BatchesTotal        = "ncd_batches_total"
	HTTPRequestsTotal   = "ncd_http_requests_total"
	HTTPErrorsTotal     = "ncd_http_errors_total"
	HTTPRequestSeconds  = "ncd_http_request_duration_seconds"
	HTTPResponseSeconds = "ncd_http_response_duration_seconds"
	HTTPDownloadBytes   = "ncd_http_download_bytes"
)

// Record kinds used with RecordRecords.
const (
	KindRows      = "rows"
	KindRedacted  = "redacted"
	KindMalformed = "malformed"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. nil restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the active backend.
func Flush() error {
	return current().Flush()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one loader step (for example "normal", "global",
// "lookup") and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	b := current()
	l := Labels{"job": job, "step": step, "status": status(err)}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n to the counter for kind. Non-positive n is ignored.
func RecordRecords(job, kind string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordBatch counts one flushed batch.
func RecordBatch(job string) {
	current().IncCounter(BatchesTotal, 1, Labels{"job": job})
}

// RecordHTTP records one HTTP attempt. status 0 means no response was
// received. Negative durations and sizes mean "not measured" and are skipped.
func RecordHTTP(job string, statusCode int, err error, reqDur, respDur time.Duration, downloadBytes int64) {
	b := current()
	code := "unknown"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	l := Labels{"job": job, "status": code}

	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode >= 400 || statusCode == 0 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur >= 0 {
		b.ObserveHistogram(HTTPRequestSeconds, reqDur.Seconds(), l)
	}
	if respDur >= 0 {
		b.ObserveHistogram(HTTPResponseSeconds, respDur.Seconds(), l)
	}
	if downloadBytes >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(downloadBytes), l)
	}
}
