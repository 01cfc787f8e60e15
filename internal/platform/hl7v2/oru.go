package hl7v2

import (
	"strings"
	"time"
)

// Observation is one OBX result together with the collection time of the
// OBR order it belongs to.
type Observation struct {
	SetID        string
	ValueType    string // OBX-2, NM for numeric results
	Code         string // OBX-3.1
	Text         string // OBX-3.2
	CodingSystem string // OBX-3.3, e.g. LN for LOINC
	Value        string // OBX-5
	Units        string // OBX-6.1
	Status       string // OBX-11
	ObservedAt   time.Time
}

// Final reports whether the result may be stored. Deleted, cancelled and
// "cannot obtain" results are not.
func (o Observation) Final() bool {
	switch strings.ToUpper(o.Status) {
	case "D", "X", "W":
		return false
	}
	return true
}

// Observations returns every OBX of the message in order. ObservedAt is
// OBX-14 when set, otherwise OBR-7 of the enclosing order, otherwise MSH-7.
func (m *Message) Observations() []Observation {
	var out []Observation
	orderAt := m.Timestamp
	for i := range m.Segments {
		seg := &m.Segments[i]
		switch seg.Name {
		case "OBR":
			orderAt = m.Timestamp
			if t, err := ParseTimestamp(seg.Field(7)); err == nil {
				orderAt = t
			}
		case "OBX":
			obs := Observation{
				SetID:        seg.Field(1),
				ValueType:    seg.Field(2),
				Code:         seg.Component(3, 1),
				Text:         seg.Component(3, 2),
				CodingSystem: seg.Component(3, 3),
				Value:        seg.Field(5),
				Units:        seg.Component(6, 1),
				Status:       seg.Field(11),
				ObservedAt:   orderAt,
			}
			if t, err := ParseTimestamp(seg.Field(14)); err == nil {
				obs.ObservedAt = t
			}
			out = append(out, obs)
		}
	}
	return out
}
