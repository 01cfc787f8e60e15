package labs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/hl7v2"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

var (
	ErrUnsupportedMessage = errors.New("only ORU result messages are accepted")
	ErrNoResults          = errors.New("message carries no usable lab results")
)

// analyte maps an observation code onto a panel field. units gives the
// factor that converts a reading in that unit to the stored unit.
type analyte struct {
	field string
	set   func(p *LabPanel, v float64)
	units map[string]float64
}

var (
	ironUnits = map[string]float64{"umol/l": 1, "ug/dl": 0.179}
	bunUnits  = map[string]float64{"mmol/l": 1, "mg/dl": 1 / derived.BUNMmolToMgdl}
)

// analytes is keyed by upper-case code. LOINC codes cover what a hospital
// laboratory reports; the HD- codes carry session values from the dialysis
// machine interface, which has no LOINC equivalent for pre and post BUN.
var analytes = map[string]analyte{
	"718-7": {"hb", func(p *LabPanel, v float64) { p.Hb = &v },
		map[string]float64{"g/l": 1, "g/dl": 10, "mmol/l": 16.114}},
	"2498-4": {"iron", func(p *LabPanel, v float64) { p.Iron = &v }, ironUnits},
	"2500-7": {"tibc", func(p *LabPanel, v float64) { p.TIBC = &v }, ironUnits},
	"17861-6": {"calcium", func(p *LabPanel, v float64) { p.Calcium = &v },
		map[string]float64{"mmol/l": 1, "mg/dl": 1 / derived.CalciumMmolToMgdl}},
	"2000-8": {"calcium", func(p *LabPanel, v float64) { p.Calcium = &v },
		map[string]float64{"mmol/l": 1}},
	"1751-7": {"albumin", func(p *LabPanel, v float64) { p.Albumin = &v },
		map[string]float64{"g/l": 1, "g/dl": 10}},
	"2777-1": {"phosphorus", func(p *LabPanel, v float64) { p.Phosphorus = &v },
		map[string]float64{"mmol/l": 1, "mg/dl": 1 / derived.PhosphorusMmolToMgdl}},
	"14879-1": {"phosphorus", func(p *LabPanel, v float64) { p.Phosphorus = &v },
		map[string]float64{"mmol/l": 1}},
	"2731-8": {"pth_pmol", func(p *LabPanel, v float64) { p.PTHPmol = &v },
		map[string]float64{"pmol/l": 1, "pg/ml": 1 / derived.PTHPmolToPgmlFactor, "ng/l": 1 / derived.PTHPmolToPgmlFactor}},
	"HD-PREBUN":  {"pre_bun", func(p *LabPanel, v float64) { p.PreBUN = &v }, bunUnits},
	"HD-POSTBUN": {"post_bun", func(p *LabPanel, v float64) { p.PostBUN = &v }, bunUnits},
	"HD-DUR": {"duration_hr", func(p *LabPanel, v float64) { p.DurationHr = &v },
		map[string]float64{"h": 1, "hr": 1, "min": 1.0 / 60}},
	"HD-POSTWT": {"post_weight_kg", func(p *LabPanel, v float64) { p.PostWeightKg = &v },
		map[string]float64{"kg": 1, "g": 0.001}},
	"HD-UF": {"uf_volume_l", func(p *LabPanel, v float64) { p.UFVolumeL = &v },
		map[string]float64{"l": 1, "ml": 0.001}},
}

func normalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	return strings.NewReplacer("µ", "u", "μ", "u").Replace(u)
}

// SkippedResult is an observation that was not stored, with the reason.
type SkippedResult struct {
	SetID  string `json:"set_id,omitempty"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	ControlID string          `json:"control_id"`
	PatientID string          `json:"patient_id"`
	Panels    []*LabPanel     `json:"panels"`
	Skipped   []SkippedResult `json:"skipped,omitempty"`
}

// ImportORU stores the numeric results of an ORU message. The patient is
// found by PID-3; results are grouped into one panel per collection date.
// All panels of a message are stored in a single transaction.
func (s *Service) ImportORU(ctx context.Context, msg *hl7v2.Message) (*ImportResult, error) {
	if msg.MessageCode() != "ORU" {
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedMessage, msg.Type)
	}
	pt, err := s.patients.GetPatientByMRN(ctx, msg.PatientID())
	if err != nil {
		return nil, err
	}

	res := &ImportResult{ControlID: msg.ControlID, PatientID: pt.ID.String()}
	byDate := map[civil.Date]*LabPanel{}
	filled := map[civil.Date]map[string]bool{}
	note := fmt.Sprintf("imported from %s message %s", orDefault(msg.SendingApp, "HL7"), msg.ControlID)

	for _, obs := range msg.Observations() {
		skip := func(reason string) {
			res.Skipped = append(res.Skipped, SkippedResult{SetID: obs.SetID, Code: obs.Code, Reason: reason})
		}
		a, ok := analytes[strings.ToUpper(obs.Code)]
		switch {
		case !ok:
			skip("unmapped code")
			continue
		case !obs.Final():
			skip("result status " + obs.Status)
			continue
		case obs.ValueType != "" && obs.ValueType != "NM":
			skip("value type " + obs.ValueType + " is not numeric")
			continue
		case obs.ObservedAt.IsZero():
			skip("no collection date")
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(obs.Value), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skip(fmt.Sprintf("value %q is not a number", obs.Value))
			continue
		}
		factor, ok := a.units[normalizeUnit(obs.Units)]
		if !ok {
			skip(fmt.Sprintf("unit %q not accepted for %s", obs.Units, a.field))
			continue
		}

		date := civil.Of(obs.ObservedAt)
		p, ok := byDate[date]
		if !ok {
			p = &LabPanel{PatientID: pt.ID, TestDate: date, Notes: note}
			byDate[date] = p
			filled[date] = map[string]bool{}
		}
		if filled[date][a.field] {
			skip("duplicate result for " + a.field)
			continue
		}
		filled[date][a.field] = true
		a.set(p, derived.Round(v*factor, 4))
	}

	if len(byDate) == 0 {
		return nil, ErrNoResults
	}
	for _, p := range byDate {
		res.Panels = append(res.Panels, p)
	}
	sort.Slice(res.Panels, func(i, j int) bool {
		return res.Panels[i].TestDate.Before(res.Panels[j].TestDate.Time)
	})

	err = s.inTx(ctx, func(ctx context.Context) error {
		for _, p := range res.Panels {
			if err := s.CreatePanel(ctx, p); err != nil {
				return fmt.Errorf("panel %s: %w", p.TestDate, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("control_id", msg.ControlID).Str("patient_id", res.PatientID).
		Int("panels", len(res.Panels)).Int("skipped", len(res.Skipped)).Msg("hl7 results imported")
	return res, nil
}

// HandleHL7 is the MLLP entry point. It imports the message and answers
// with AA, with AR for message types it does not take, or with AE.
func (s *Service) HandleHL7(ctx context.Context, msg *hl7v2.Message) *hl7v2.Message {
	_, err := s.ImportORU(ctx, msg)
	switch {
	case err == nil:
		return hl7v2.ACK(msg, hl7v2.AckAccept, "", s.now())
	case errors.Is(err, ErrUnsupportedMessage):
		return hl7v2.ACK(msg, hl7v2.AckReject, err.Error(), s.now())
	default:
		s.logger.Warn().Err(err).Str("control_id", msg.ControlID).Msg("hl7 import failed")
		return hl7v2.ACK(msg, hl7v2.AckError, err.Error(), s.now())
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
