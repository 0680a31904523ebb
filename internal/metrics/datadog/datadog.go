// Package datadog implements metrics.Backend on the Datadog metrics intake.
//
// Observations are buffered in memory and submitted by a background ticker
// (default once a minute) and once more on Close, so a long import produces a
// time series rather than one spike at exit. Flush swaps the buffers under
// the lock and submits outside it; loader goroutines never wait on the
// network.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"ncd/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// DefaultJobName tags metrics when Options.JobName is empty.
const DefaultJobName = "ncd"

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every series.
	JobName string

	// Tags are extra Datadog tags, e.g. "env:prod".
	Tags []string

	// FlushEvery defaults to 60s when <= 0.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// buffers is one collection window.
type buffers struct {
	steps     map[string]float64   // step\x00status -> count
	stepDur   map[string][]float64 // step\x00status -> seconds
	records   map[string]float64   // kind -> count
	batches   float64
	httpReqs  map[string]float64 // status -> count
	httpErrs  map[string]float64
	httpReq   map[string][]float64
	httpResp  map[string][]float64
	httpBytes map[string][]float64
}

func newBuffers() buffers {
	return buffers{
		steps:     map[string]float64{},
		stepDur:   map[string][]float64{},
		records:   map[string]float64{},
		httpReqs:  map[string]float64{},
		httpErrs:  map[string]float64{},
		httpReq:   map[string][]float64{},
		httpResp:  map[string][]float64{},
		httpBytes: map[string][]float64{},
	}
}

func (s buffers) empty() bool {
	return len(s.steps) == 0 && len(s.stepDur) == 0 && len(s.records) == 0 &&
		s.batches == 0 && len(s.httpReqs) == 0 && len(s.httpErrs) == 0 &&
		len(s.httpReq) == 0 && len(s.httpResp) == 0 && len(s.httpBytes) == 0
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend builds a backend using the official client and starts its flush
// loop. Credentials come from DD_API_KEY / DD_SITE as read by the client.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = DefaultJobName
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffers(),
	}
	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered. Calls
// after the first only flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func statusOf(l metrics.Labels) string {
	if s := l["status"]; s != "" {
		return s
	}
	return "unknown"
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.buf.steps[stepStatusKey(labels["step"], labels["status"])] += delta
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.buf.records[kind] += delta
		}
	case metrics.BatchesTotal:
		b.buf.batches += delta
	case metrics.HTTPRequestsTotal:
		b.buf.httpReqs[statusOf(labels)] += delta
	case metrics.HTTPErrorsTotal:
		b.buf.httpErrs[statusOf(labels)] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var m map[string][]float64
	key := statusOf(labels)
	switch name {
	case metrics.StepDurationSeconds:
		m, key = b.buf.stepDur, stepStatusKey(labels["step"], labels["status"])
	case metrics.HTTPRequestSeconds:
		m = b.buf.httpReq
	case metrics.HTTPResponseSeconds:
		m = b.buf.httpResp
	case metrics.HTTPDownloadBytes:
		m = b.buf.httpBytes
	default:
		return
	}
	m[key] = append(m[key], value)
}

func (b *Backend) swap() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf
	b.buf = newBuffers()
	return s
}

// Flush submits buffered metrics and resets the buffers. Buffers are reset
// even when submission fails; delivery is at most once.
func (b *Backend) Flush() error {
	snap := b.swap()
	if snap.empty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries converts one window into series stamped at nowUnix. It is pure.
func (b *Backend) buildSeries(s buffers, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.steps)+len(s.records)+32)

	for k, v := range s.steps {
		step, status := splitStepStatusKey(k)
		series = append(series, countSeries("ncd.step.total", v, withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix))
	}
	for k, samples := range s.stepDur {
		step, status := splitStepStatusKey(k)
		addPercentiles(&series, "ncd.step.duration_seconds", samples, withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix)
	}
	for kind, v := range s.records {
		series = append(series, countSeries("ncd.records.total", v, withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	if s.batches != 0 {
		series = append(series, countSeries("ncd.batches.total", s.batches, b.baseTags, nowUnix))
	}

	for status, v := range s.httpReqs {
		series = append(series, countSeries("ncd.http.requests.total", v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, v := range s.httpErrs {
		series = append(series, countSeries("ncd.http.errors.total", v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for prefix, m := range map[string]map[string][]float64{
		"ncd.http.request_duration_seconds":  s.httpReq,
		"ncd.http.response_duration_seconds": s.httpResp,
		"ncd.http.download_bytes":            s.httpBytes,
	} {
		for status, samples := range m {
			addPercentiles(&series, prefix, samples, withTags(b.baseTags, "status:"+status), nowUnix)
		}
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. samples is not
// mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	for _, p := range []struct {
		suffix string
		q      float64
	}{{".p50", 0.50}, {".p90", 0.90}, {".p95", 0.95}, {".p99", 0.99}} {
		*series = append(*series, gaugeSeries(prefix+p.suffix, percentileNearestRank(cp, p.q), tags, nowUnix))
	}
	*series = append(*series,
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(metric, datadogV2.METRICINTAKETYPE_COUNT, value, tags, nowUnix)
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(metric, datadogV2.METRICINTAKETYPE_GAUGE, value, tags, nowUnix)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func stepStatusKey(step, status string) string {
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	step, status, ok := strings.Cut(k, "\x00")
	if !ok {
		return k, "unknown"
	}
	return step, status
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	switch {
	case n == 0:
		return 0
	case p <= 0:
		return s[0]
	case p >= 1:
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	return s[min(max(idx, 0), n-1)]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
