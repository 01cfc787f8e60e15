// Package targets holds the clinic's target ranges for derived lab values
// and classifies a value as low, in range, or high against them.
//
// Ranges come from a YAML file:
//
//	targets:
//	  - metric: urr
//	    min: 65
//	    label: URR (%)
//	  - metric: tsat
//	    min: 20
//	    max: 50
//
// Bounds are inclusive. A target with no file entry falls back to Defaults.
package targets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
)

// Metric names match the JSON keys of derived.PanelOutput, plus hb for the
// raw hemoglobin reading.
const (
	MetricURR              = "urr"
	MetricKtV              = "ktv"
	MetricTSAT             = "tsat"
	MetricCorrectedCalcium = "corrected_calcium"
	MetricCaPhosProduct    = "ca_phos_product"
	MetricHb               = "hb"
	MetricPTH              = "pth_pgml"
)

type Status string

const (
	StatusLow     Status = "low"
	StatusInRange Status = "in_range"
	StatusHigh    Status = "high"
	StatusUnknown Status = "unknown"
)

type Target struct {
	Metric string   `yaml:"metric" json:"metric"`
	Min    *float64 `yaml:"min" json:"min,omitempty"`
	Max    *float64 `yaml:"max" json:"max,omitempty"`
	Label  string   `yaml:"label" json:"label,omitempty"`
}

// Classify places v against the bounds.
func (t Target) Classify(v float64) Status {
	if t.Min != nil && v < *t.Min {
		return StatusLow
	}
	if t.Max != nil && v > *t.Max {
		return StatusHigh
	}
	return StatusInRange
}

// Set is an immutable collection of targets keyed by metric.
type Set struct {
	byMetric map[string]Target
}

type file struct {
	Targets []Target `yaml:"targets"`
}

func bound(v float64) *float64 { return &v }

// Defaults returns the built-in ranges used when no targets file is configured.
func Defaults() *Set {
	s, _ := newSet([]Target{
		{Metric: MetricURR, Min: bound(65), Label: "URR (%)"},
		{Metric: MetricKtV, Min: bound(1.2), Label: "Kt/V"},
		{Metric: MetricTSAT, Min: bound(20), Max: bound(50), Label: "TSAT (%)"},
		{Metric: MetricCorrectedCalcium, Min: bound(2.1), Max: bound(2.5), Label: "Corrected calcium (mmol/L)"},
		{Metric: MetricCaPhosProduct, Max: bound(55), Label: "Ca x P (mg²/dL²)"},
		{Metric: MetricHb, Min: bound(100), Max: bound(120), Label: "Hemoglobin (g/L)"},
		{Metric: MetricPTH, Min: bound(150), Max: bound(600), Label: "PTH (pg/mL)"},
	})
	return s
}

func newSet(targets []Target) (*Set, error) {
	s := &Set{byMetric: make(map[string]Target, len(targets))}
	for i, t := range targets {
		if t.Metric == "" {
			return nil, fmt.Errorf("targets[%d]: metric is required", i)
		}
		if _, dup := s.byMetric[t.Metric]; dup {
			return nil, fmt.Errorf("targets[%d]: duplicate metric %q", i, t.Metric)
		}
		if t.Min == nil && t.Max == nil {
			return nil, fmt.Errorf("targets[%d] (%s): min or max is required", i, t.Metric)
		}
		if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
			return nil, fmt.Errorf("targets[%d] (%s): min %g exceeds max %g", i, t.Metric, *t.Min, *t.Max)
		}
		s.byMetric[t.Metric] = t
	}
	return s, nil
}

// Parse decodes a targets document. Metrics it does not mention keep their
// default range.
func Parse(data []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("targets: parse: %w", err)
	}
	parsed, err := newSet(f.Targets)
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}

	merged := Defaults()
	for m, t := range parsed.byMetric {
		merged.byMetric[m] = t
	}
	return merged, nil
}

// Load reads and parses the targets file at path. An empty path yields Defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: read %s: %w", path, err)
	}
	return Parse(data)
}

func (s *Set) Get(metric string) (Target, bool) {
	t, ok := s.byMetric[metric]
	return t, ok
}

// Evaluate classifies a derived value. Unavailable values and metrics
// without a target are unknown.
func (s *Set) Evaluate(metric string, v derived.Value) Status {
	if !v.OK {
		return StatusUnknown
	}
	t, ok := s.byMetric[metric]
	if !ok {
		return StatusUnknown
	}
	return t.Classify(v.Value)
}

// Flags evaluates every value in values and returns only the metrics that
// have a target.
func (s *Set) Flags(values map[string]derived.Value) map[string]Status {
	out := make(map[string]Status, len(values))
	for m, v := range values {
		if _, ok := s.byMetric[m]; !ok {
			continue
		}
		out[m] = s.Evaluate(m, v)
	}
	return out
}
