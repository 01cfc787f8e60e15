// Package hl7v2 reads HL7 version 2 messages as sent by laboratory systems,
// frames them for MLLP transport and builds the acknowledgements a sender
// expects back.
package hl7v2

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmpty     = errors.New("hl7v2: message is empty")
	ErrNoHeader  = errors.New("hl7v2: first segment must be MSH")
	ErrMalformed = errors.New("hl7v2: malformed segment")
)

// Delimiters are read from MSH-1 and MSH-2 of each message.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters are the ones nearly every sender uses: |^~\&
var DefaultDelimiters = Delimiters{Field: '|', Component: '^', Repetition: '~', Escape: '\\', Subcomponent: '&'}

func (d Delimiters) encoding() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.Subcomponent})
}

type Message struct {
	Type         string // MSH-9, e.g. ORU^R01
	ControlID    string // MSH-10
	ProcessingID string // MSH-11
	Version      string // MSH-12
	Timestamp    time.Time
	SendingApp   string
	SendingFac   string
	ReceivingApp string
	ReceivingFac string
	Delims       Delimiters
	Segments     []Segment
}

// Segment holds the fields of one line. Fields[0] is field 1; for MSH that
// is the field separator itself, so MSH numbering matches the standard.
type Segment struct {
	Name   string
	Fields []Field
}

type Field struct {
	Value string
	// Repeats holds each repetition split into components.
	Repeats [][]string
}

// Components of the first repetition.
func (f Field) Components() []string {
	if len(f.Repeats) == 0 {
		return nil
	}
	return f.Repeats[0]
}

// Parse reads a message. Segments may be separated by \r, \n or \r\n.
func Parse(raw []byte) (*Message, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, ErrEmpty
	}
	if !strings.HasPrefix(lines[0], "MSH") || len(lines[0]) < 8 {
		return nil, ErrNoHeader
	}

	d := DefaultDelimiters
	d.Field = lines[0][3]
	enc := lines[0][4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	if len(enc) < 2 {
		return nil, fmt.Errorf("%w: MSH-2 encoding characters %q", ErrMalformed, enc)
	}
	d.Component, d.Repetition = enc[0], enc[1]
	if len(enc) > 2 {
		d.Escape = enc[2]
	}
	if len(enc) > 3 {
		d.Subcomponent = enc[3]
	}

	msg := &Message{Delims: d}
	for i, line := range lines {
		seg, err := parseSegment(line, d)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msh := &msg.Segments[0]
	msg.SendingApp = msh.Component(3, 1)
	msg.SendingFac = msh.Component(4, 1)
	msg.ReceivingApp = msh.Component(5, 1)
	msg.ReceivingFac = msh.Component(6, 1)
	msg.Timestamp, _ = ParseTimestamp(msh.Field(7))
	msg.Type = msh.Field(9)
	msg.ControlID = msh.Field(10)
	msg.ProcessingID = msh.Field(11)
	msg.Version = msh.Field(12)
	return msg, nil
}

func parseSegment(line string, d Delimiters) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	parts := strings.Split(line, string(d.Field))
	seg := Segment{Name: parts[0]}
	if len(seg.Name) != 3 {
		return Segment{}, fmt.Errorf("%w: segment name %q", ErrMalformed, seg.Name)
	}

	if seg.Name == "MSH" {
		// MSH-1 is the separator and MSH-2 is taken verbatim so the encoding
		// characters are not split on themselves.
		seg.Fields = append(seg.Fields,
			Field{Value: string(d.Field), Repeats: [][]string{{string(d.Field)}}},
			Field{Value: parts[1], Repeats: [][]string{{parts[1]}}})
		parts = parts[2:]
	} else {
		parts = parts[1:]
	}
	for _, p := range parts {
		seg.Fields = append(seg.Fields, parseField(p, d))
	}
	return seg, nil
}

func parseField(raw string, d Delimiters) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(d.Repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(d.Component)))
	}
	return f
}

// Field returns field n (1-based) or "".
func (s *Segment) Field(n int) string {
	if n < 1 || n > len(s.Fields) {
		return ""
	}
	return s.Fields[n-1].Value
}

// Component returns component c (1-based) of the first repetition of field n.
func (s *Segment) Component(n, c int) string {
	if n < 1 || n > len(s.Fields) {
		return ""
	}
	comps := s.Fields[n-1].Components()
	if c < 1 || c > len(comps) {
		return ""
	}
	return comps[c-1]
}

// Segment returns the first segment with the given name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// MessageCode and TriggerEvent split MSH-9, e.g. ORU and R01.
func (m *Message) MessageCode() string {
	return m.Segments[0].Component(9, 1)
}

func (m *Message) TriggerEvent() string {
	return m.Segments[0].Component(9, 2)
}

// PatientID returns PID-3.1, the first patient identifier.
func (m *Message) PatientID() string {
	pid := m.Segment("PID")
	if pid == nil {
		return ""
	}
	return pid.Component(3, 1)
}

// Serialize writes the message back out with \r segment terminators
// between segments.
func (m *Message) Serialize() []byte {
	d := m.Delims
	if d.Field == 0 {
		d = DefaultDelimiters
	}
	var b strings.Builder
	for i, seg := range m.Segments {
		if i > 0 {
			b.WriteByte('\r')
		}
		b.WriteString(seg.Name)
		fields := seg.Fields
		if seg.Name == "MSH" && len(fields) > 0 {
			fields = fields[1:]
		}
		for _, f := range fields {
			b.WriteByte(d.Field)
			b.WriteString(f.Value)
		}
	}
	return []byte(b.String())
}

var timestampLayouts = []string{"20060102150405", "200601021504", "2006010215", "20060102"}

// ParseTimestamp reads an HL7 TS/DTM value. Fractional seconds and a zone
// offset are accepted; the offset is applied when present.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	zone := ""
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		s, zone = s[:i], s[i:]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if len(s) != len(layout) {
			continue
		}
		if zone != "" {
			return time.Parse(layout+"-0700", s+zone)
		}
		return time.Parse(layout, s)
	}
	return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s)
}
