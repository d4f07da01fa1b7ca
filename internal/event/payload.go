package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the closed union of per-event-type payload structs. The
// unexported marker method keeps the set sealed to this package.
type Payload interface {
	isPayload()
}

// StartPayload opens a case timeline.
type StartPayload struct {
	ProcedureType string `json:"procedure_type"`
	Operatory     string `json:"operatory,omitempty"`
	Clinician     string `json:"clinician,omitempty"`
}

// AnesthesiaPayload records an anesthetic administration.
type AnesthesiaPayload struct {
	Agent  string  `json:"agent"`
	DoseMg float64 `json:"dose_mg"`
	Site   string  `json:"site,omitempty"`
}

// IncisionPayload records an incision.
type IncisionPayload struct {
	Site      string `json:"site"`
	Technique string `json:"technique,omitempty"`
}

// ImplantPlacedPayload records a successful implant placement.
type ImplantPlacedPayload struct {
	SKU       string  `json:"sku"`
	Site      string  `json:"site"`
	TorqueNcm float64 `json:"torque_ncm,omitempty"`
}

// ImplantFailedPayload records a failed placement attempt.
type ImplantFailedPayload struct {
	SKU    string `json:"sku"`
	Site   string `json:"site"`
	Reason string `json:"reason,omitempty"`
}

// ScanPayload records an intraoral or radiographic scan.
type ScanPayload struct {
	ScanType string `json:"scan_type"`
	MediaRef string `json:"media_ref,omitempty"`
}

// ProsthesisPayload records a prosthesis try-in.
type ProsthesisPayload struct {
	ProsthesisType string `json:"prosthesis_type"`
	ShadeCode      string `json:"shade_code,omitempty"`
	Fit            string `json:"fit,omitempty"`
}

// MaterialConfirmedPayload records consumption of a stocked material. Quantity
// zero is treated as one by stock consumers.
type MaterialConfirmedPayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity,omitempty"`
	LotCode  string `json:"lot_code,omitempty"`
}

// OsteotomyPayload records completion of an osteotomy.
type OsteotomyPayload struct {
	Site       string  `json:"site"`
	DiameterMm float64 `json:"diameter_mm,omitempty"`
}

// LabAdjustmentPayload asks the laboratory for a mid-procedure adjustment.
type LabAdjustmentPayload struct {
	Item         string `json:"item"`
	Instructions string `json:"instructions"`
}

// ComplicationPayload flags an intraoperative complication.
type ComplicationPayload struct {
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// VitalsPayload carries a periodic vitals sample.
type VitalsPayload struct {
	HeartRate   int     `json:"heart_rate,omitempty"`
	SystolicBP  int     `json:"systolic_bp,omitempty"`
	DiastolicBP int     `json:"diastolic_bp,omitempty"`
	SpO2        float64 `json:"spo2,omitempty"`
}

// EndPayload closes a case timeline.
type EndPayload struct {
	Outcome string `json:"outcome,omitempty"`
	Note    string `json:"note,omitempty"`
}

func (StartPayload) isPayload()             {}
func (AnesthesiaPayload) isPayload()        {}
func (IncisionPayload) isPayload()          {}
func (ImplantPlacedPayload) isPayload()     {}
func (ImplantFailedPayload) isPayload()     {}
func (ScanPayload) isPayload()              {}
func (ProsthesisPayload) isPayload()        {}
func (MaterialConfirmedPayload) isPayload() {}
func (OsteotomyPayload) isPayload()         {}
func (LabAdjustmentPayload) isPayload()     {}
func (ComplicationPayload) isPayload()      {}
func (VitalsPayload) isPayload()            {}
func (EndPayload) isPayload()               {}

// DecodePayload unmarshals raw into the payload struct for t. The switch is
// exhaustive over the closed type set; a missing case is a bug, not data.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	decode := func(dst Payload) (Payload, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return dst, nil
	}

	switch t {
	case TypeStart:
		return decode(&StartPayload{})
	case TypeAnesthesiaAdministered:
		return decode(&AnesthesiaPayload{})
	case TypeIncisionMade:
		return decode(&IncisionPayload{})
	case TypeImplantPlaced:
		return decode(&ImplantPlacedPayload{})
	case TypeImplantFailed:
		return decode(&ImplantFailedPayload{})
	case TypeScanTaken:
		return decode(&ScanPayload{})
	case TypeProsthesisTriedIn:
		return decode(&ProsthesisPayload{})
	case TypeMaterialConfirmed:
		return decode(&MaterialConfirmedPayload{})
	case TypeOsteotomyCompleted:
		return decode(&OsteotomyPayload{})
	case TypeLabAdjustmentRequested:
		return decode(&LabAdjustmentPayload{})
	case TypeComplicationDetected:
		return decode(&ComplicationPayload{})
	case TypeVitalsUpdate:
		return decode(&VitalsPayload{})
	case TypeEnd:
		return decode(&EndPayload{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
}
