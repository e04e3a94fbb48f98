// Package dataset reads, validates, splits, and stages the machine-telemetry
// dataset the workshop trains on. A record is one machine observation: the
// product quality variant, five sensor readings, and a binary failure label.
package dataset

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/machinist-ai/machinist/pkg/check"
)

// Column names of the canonical dataset file. The raw upstream file carries
// additional identifier and failure-mode columns; those are dropped when
// reading.
const (
	ColumnVariant     = "Type"
	ColumnAirTemp     = "Air temperature [K]"
	ColumnProcessTemp = "Process temperature [K]"
	ColumnSpeed       = "Rotational speed [rpm]"
	ColumnTorque      = "Torque [Nm]"
	ColumnToolWear    = "Tool wear [min]"
	ColumnFailure     = "Machine failure"
)

// Columns is the canonical column order for files this package writes.
var Columns = []string{
	ColumnVariant,
	ColumnAirTemp,
	ColumnProcessTemp,
	ColumnSpeed,
	ColumnTorque,
	ColumnToolWear,
	ColumnFailure,
}

// Variant is the product quality variant of the machined part.
type Variant string

const (
	VariantLow    Variant = "L"
	VariantMedium Variant = "M"
	VariantHigh   Variant = "H"
)

var variants = []string{
	string(VariantLow), string(VariantMedium), string(VariantHigh),
}

// Record is one machine observation.
type Record struct {
	Variant      Variant
	AirTempK     float64
	ProcessTempK float64
	SpeedRPM     int
	TorqueNm     float64
	ToolWearMin  int
	Failure      bool
}

// Validate implements the check.Validatable interface.
func (r Record) Validate() []error {
	return []error{
		check.In(string(r.Variant), variants, "product variant"),
		check.True(r.AirTempK > 0, "air temperature must be positive, got %v", r.AirTempK),
		check.True(r.ProcessTempK > 0, "process temperature must be positive, got %v", r.ProcessTempK),
		check.GreaterThanOrEqualTo(int64(r.SpeedRPM), 0, "rotational speed"),
		check.True(r.TorqueNm >= 0, "torque must be non-negative, got %v", r.TorqueNm),
		check.GreaterThanOrEqualTo(int64(r.ToolWearMin), 0, "tool wear"),
	}
}

// Features renders the record's feature fields in canonical comma-separated
// form, the wire format the inference endpoint accepts:
//
//	L,298.4,308.2,1582,70.7,216
func (r Record) Features() string {
	return strings.Join([]string{
		string(r.Variant),
		formatFloat(r.AirTempK),
		formatFloat(r.ProcessTempK),
		strconv.Itoa(r.SpeedRPM),
		formatFloat(r.TorqueNm),
		strconv.Itoa(r.ToolWearMin),
	}, ",")
}

// variantCodes is the numeric encoding the preprocessing step applies before
// training. The trained model never sees the letter form.
var variantCodes = map[Variant]int{
	VariantLow:    0,
	VariantMedium: 1,
	VariantHigh:   2,
}

// EncodedFeatures renders the feature fields the way the trained model saw
// them: all numeric, with the quality variant encoded as 0/1/2:
//
//	0,298.4,308.2,1582,70.7,216
func (r Record) EncodedFeatures() string {
	return strings.Join([]string{
		strconv.Itoa(variantCodes[r.Variant]),
		formatFloat(r.AirTempK),
		formatFloat(r.ProcessTempK),
		strconv.Itoa(r.SpeedRPM),
		formatFloat(r.TorqueNm),
		strconv.Itoa(r.ToolWearMin),
	}, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseInference parses the 6-field comma-separated plaintext record format
// accepted by the prediction endpoint. The failure label is not part of the
// wire format.
func ParseInference(payload string) (Record, error) {
	fields := strings.Split(strings.TrimSpace(payload), ",")
	if len(fields) != 6 {
		return Record{}, errors.Errorf(
			"expected 6 comma-separated fields (variant,airtemp,proctemp,speed,torque,wear), got %d",
			len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	record := Record{Variant: Variant(fields[0])}
	var err error
	if record.AirTempK, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return Record{}, errors.Errorf("air temperature %q is not numeric", fields[1])
	}
	if record.ProcessTempK, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Record{}, errors.Errorf("process temperature %q is not numeric", fields[2])
	}
	if record.SpeedRPM, err = strconv.Atoi(fields[3]); err != nil {
		return Record{}, errors.Errorf("rotational speed %q is not an integer", fields[3])
	}
	if record.TorqueNm, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return Record{}, errors.Errorf("torque %q is not numeric", fields[4])
	}
	if record.ToolWearMin, err = strconv.Atoi(fields[5]); err != nil {
		return Record{}, errors.Errorf("tool wear %q is not an integer", fields[5])
	}
	if err := check.Validate(record); err != nil {
		return Record{}, err
	}
	return record, nil
}
