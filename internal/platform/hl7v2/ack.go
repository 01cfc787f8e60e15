package hl7v2

import (
	"strings"
	"time"
)

// Acknowledgment codes for MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// ACK builds the acknowledgement for in. Sender and receiver are swapped
// and MSA-2 echoes the original control ID. text, if any, goes to MSA-3.
func ACK(in *Message, code, text string, now time.Time) *Message {
	d := in.Delims
	if d.Field == 0 {
		d = DefaultDelimiters
	}
	ts := now.UTC().Format("20060102150405")
	typ := "ACK"
	if ev := in.TriggerEvent(); ev != "" {
		typ += string(d.Component) + ev + string(d.Component) + "ACK"
	}
	processing := in.ProcessingID
	if processing == "" {
		processing = "P"
	}

	ack := &Message{
		Type:         typ,
		ControlID:    "ACK" + now.UTC().Format("20060102150405.000"),
		ProcessingID: processing,
		Version:      in.Version,
		Timestamp:    now,
		SendingApp:   in.ReceivingApp,
		SendingFac:   in.ReceivingFac,
		ReceivingApp: in.SendingApp,
		ReceivingFac: in.SendingFac,
		Delims:       d,
	}
	msh := Segment{Name: "MSH", Fields: plain(
		string(d.Field), d.encoding(),
		ack.SendingApp, ack.SendingFac, ack.ReceivingApp, ack.ReceivingFac,
		ts, "", ack.Type, ack.ControlID, ack.ProcessingID, ack.Version,
	)}
	msa := Segment{Name: "MSA", Fields: plain(code, in.ControlID)}
	if text != "" {
		msa.Fields = append(msa.Fields, plain(d.EscapeText(text))...)
	}
	ack.Segments = []Segment{msh, msa}
	return ack
}

func plain(values ...string) []Field {
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = Field{Value: v, Repeats: [][]string{{v}}}
	}
	return fields
}

// EscapeText replaces delimiter characters in free text with HL7 escape
// sequences.
func (d Delimiters) EscapeText(s string) string {
	esc := string(d.Escape)
	r := strings.NewReplacer(
		esc, esc+"E"+esc,
		string(d.Field), esc+"F"+esc,
		string(d.Component), esc+"S"+esc,
		string(d.Subcomponent), esc+"T"+esc,
		string(d.Repetition), esc+"R"+esc,
	)
	return r.Replace(s)
}
