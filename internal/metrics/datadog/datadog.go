// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on Flush. A background loop
// flushes on a ticker so long imports produce a time series, and Close
// performs one final flush.
//
// Concurrency model:
//   - pipeline code can call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - Close stops the loop; call it once
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// Prefix is prepended to every metric name ("import" gives "import.runs.total").
	Prefix string

	// Service becomes tag "service:<name>" on every metric. Defaults to "crm-import".
	Service string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:crm"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted. Defaults to 60s.
	FlushEvery time.Duration

	// unexported test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	prefix     string
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	baseTags   []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("APP_ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client. The
// client reads DD_API_KEY and DD_SITE from the environment; network errors
// only surface from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.Service
	if service == "" {
		service = "crm-import"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "service:"+service)
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
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		prefix:     strings.Trim(opts.Prefix, "."),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
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

// Close stops the background flush loop and performs one final Flush().
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 || name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[seriesKey(name, labels)] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	k := seriesKey(name, labels)
	b.histograms[k] = append(b.histograms[k], value)
}

// snapshot is the buffered state detached from the backend for one flush
type snapshot struct {
	counters   map[string]float64
	histograms map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.histograms) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counters: b.counters, histograms: b.histograms}
	b.counters = make(map[string]float64)
	b.histograms = make(map[string][]float64)
	return s
}

// Flush submits buffered metrics to Datadog and resets local buffers.
// Buffers are reset even if submission fails.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Output is sorted by metric name then tags so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.counters)+6*len(s.histograms))

	for _, k := range sortedKeys(s.counters) {
		v := s.counters[k]
		if v == 0 {
			continue
		}
		name, tags := splitSeriesKey(k)
		series = append(series, pointSeries(b.metricName(name), datadogV2.METRICINTAKETYPE_COUNT, v, withTags(b.baseTags, tags...), nowUnix))
	}

	for _, k := range sortedKeys(s.histograms) {
		samples := append([]float64(nil), s.histograms[k]...)
		if len(samples) == 0 {
			continue
		}
		sort.Float64s(samples)

		name, tags := splitSeriesKey(k)
		metric := b.metricName(name)
		all := withTags(b.baseTags, tags...)

		series = append(series,
			pointSeries(metric+".p50", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.50), all, nowUnix),
			pointSeries(metric+".p90", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.90), all, nowUnix),
			pointSeries(metric+".p95", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.95), all, nowUnix),
			pointSeries(metric+".p99", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.99), all, nowUnix),
			pointSeries(metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, samples[len(samples)-1], all, nowUnix),
			pointSeries(metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(samples)), all, nowUnix),
		)
	}

	return series
}

func (b *Backend) metricName(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "." + name
}

func pointSeries(metric string, kind datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   kind.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// seriesKey encodes a metric name and its labels as "name\x00k:v\x01k:v"
// with labels sorted by key
func seriesKey(name string, labels metrics.Labels) string {
	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		if k != "" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	tags := make([]string, len(keys))
	for i, k := range keys {
		tags[i] = k + ":" + labels[k]
	}
	return name + "\x00" + strings.Join(tags, "\x01")
}

func splitSeriesKey(k string) (string, []string) {
	name, tagPart, _ := strings.Cut(k, "\x00")
	if tagPart == "" {
		return name, nil
	}
	return name, strings.Split(tagPart, "\x01")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:crm".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
