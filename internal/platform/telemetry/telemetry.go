// Package telemetry collects HTTP and derived-value metrics and serves them
// in the Prometheus text exposition format.
package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
)

// durationBuckets are request duration bucket bounds in seconds.
var durationBuckets = []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0}

// histogram keeps non-cumulative bucket counts; Gather makes them cumulative.
type histogram struct {
	counts []uint64
	count  uint64
	sum    float64
}

func (h *histogram) observe(v float64) {
	for i, b := range durationBuckets {
		if v <= b {
			h.counts[i]++
			break
		}
	}
	h.count++
	h.sum += v
}

type requestKey struct {
	method, route, status string
}

type routeKey struct {
	method, route string
}

type derivedKey struct {
	metric    string
	available bool
}

type gaugeFunc struct {
	name, help string
	fn         func() float64
}

// Provider holds every metric the service exports. The zero value is not
// usable; call New.
type Provider struct {
	namespace string
	active    int64

	mu        sync.Mutex
	requests  map[requestKey]uint64
	durations map[routeKey]*histogram
	derived   map[derivedKey]uint64
	gauges    []gaugeFunc
}

func New(namespace string) *Provider {
	return &Provider{
		namespace: namespace,
		requests:  make(map[requestKey]uint64),
		durations: make(map[routeKey]*histogram),
		derived:   make(map[derivedKey]uint64),
	}
}

func (p *Provider) name(n string) string {
	if p.namespace == "" {
		return n
	}
	return p.namespace + "_" + n
}

// Middleware records request counts and durations by route pattern.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.active, -1)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			p.mu.Lock()
			p.requests[requestKey{method, route, strconv.Itoa(status(c, err))}]++
			h, ok := p.durations[routeKey{method, route}]
			if !ok {
				h = &histogram{counts: make([]uint64, len(durationBuckets))}
				p.durations[routeKey{method, route}] = h
			}
			h.observe(time.Since(start).Seconds())
			p.mu.Unlock()

			return err
		}
	}
}

// status reports the response code, or the code err will be rendered with
// when nothing has been written yet.
func status(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// ObserveDerived counts a computed derived value by metric and availability.
func (p *Provider) ObserveDerived(metric string, v derived.Value) {
	p.mu.Lock()
	p.derived[derivedKey{metric, v.OK}]++
	p.mu.Unlock()
}

// GaugeFunc registers a gauge read at scrape time.
func (p *Provider) GaugeFunc(name, help string, fn func() float64) {
	p.mu.Lock()
	p.gauges = append(p.gauges, gaugeFunc{name: p.name(name), help: help, fn: fn})
	p.mu.Unlock()
}

// Gather snapshots all metrics as metric families sorted by name.
func (p *Provider) Gather() []*dto.MetricFamily {
	p.mu.Lock()
	defer p.mu.Unlock()

	var families []*dto.MetricFamily

	reqs := family(p.name("http_requests_total"), "HTTP requests by method, route and status.", dto.MetricType_COUNTER)
	for k, n := range p.requests {
		reqs.Metric = append(reqs.Metric, &dto.Metric{
			Label:   labels("method", k.method, "route", k.route, "status", k.status),
			Counter: &dto.Counter{Value: f64p(float64(n))},
		})
	}
	families = append(families, reqs)

	dur := family(p.name("http_request_duration_seconds"), "HTTP request latency by method and route.", dto.MetricType_HISTOGRAM)
	for k, h := range p.durations {
		buckets := make([]*dto.Bucket, len(durationBuckets))
		var cum uint64
		for i, b := range durationBuckets {
			cum += h.counts[i]
			buckets[i] = &dto.Bucket{CumulativeCount: u64p(cum), UpperBound: f64p(b)}
		}
		dur.Metric = append(dur.Metric, &dto.Metric{
			Label: labels("method", k.method, "route", k.route),
			Histogram: &dto.Histogram{
				SampleCount: u64p(h.count),
				SampleSum:   f64p(h.sum),
				Bucket:      buckets,
			},
		})
	}
	families = append(families, dur)

	active := family(p.name("http_requests_in_flight"), "HTTP requests currently being served.", dto.MetricType_GAUGE)
	active.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: f64p(float64(atomic.LoadInt64(&p.active)))}}}
	families = append(families, active)

	dv := family(p.name("derived_values_total"), "Derived values computed for stored lab panels.", dto.MetricType_COUNTER)
	for k, n := range p.derived {
		dv.Metric = append(dv.Metric, &dto.Metric{
			Label:   labels("metric", k.metric, "available", strconv.FormatBool(k.available)),
			Counter: &dto.Counter{Value: f64p(float64(n))},
		})
	}
	families = append(families, dv)

	for _, g := range p.gauges {
		mf := family(g.name, g.help, dto.MetricType_GAUGE)
		mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: f64p(g.fn())}}}
		families = append(families, mf)
	}

	// The text format rejects families without samples.
	out := families[:0]
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		sort.Slice(mf.Metric, func(i, j int) bool {
			return labelString(mf.Metric[i]) < labelString(mf.Metric[j])
		})
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Handler serves Gather in the text exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		c.Response().Header().Set(echo.HeaderContentType, string(format))
		c.Response().WriteHeader(http.StatusOK)

		enc := expfmt.NewEncoder(c.Response(), format)
		for _, mf := range p.Gather() {
			if err := enc.Encode(mf); err != nil {
				return fmt.Errorf("encode %s: %w", mf.GetName(), err)
			}
		}
		return nil
	}
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: &name, Help: &help, Type: typ.Enum()}
}

// labels builds label pairs from alternating names and values.
func labels(kv ...string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name, value := kv[i], kv[i+1]
		out = append(out, &dto.LabelPair{Name: &name, Value: &value})
	}
	return out
}

func labelString(m *dto.Metric) string {
	var s string
	for _, l := range m.GetLabel() {
		s += l.GetName() + "=" + l.GetValue() + ","
	}
	return s
}

func f64p(v float64) *float64 { return &v }
func u64p(v uint64) *uint64   { return &v }
