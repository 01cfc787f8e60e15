// Package civil provides a calendar date without time of day, as used on
// intake forms and lab reports.
package civil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a UTC-midnight time. The zero Date means "not recorded" and
// marshals to JSON null.
type Date struct {
	time.Time
}

// Of truncates t to its calendar day in t's own location.
func Of(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func New(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Parse accepts YYYY-MM-DD, and full timestamps for clients that send them.
func Parse(s string) (Date, error) {
	for _, f := range []string{layout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(f, s); err == nil {
			return Of(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(layout)
}

func (d Date) Ptr() *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// FromPtr is the inverse of Ptr, for nullable DATE columns.
func FromPtr(t *time.Time) Date {
	if t == nil {
		return Date{}
	}
	return Of(*t)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
