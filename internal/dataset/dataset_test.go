package dataset

import (
	"strings"
	"testing"

	"gotest.tools/assert"
)

func TestParseInference(t *testing.T) {
	record, err := ParseInference("L,298.4,308.2,1582,70.7,216")
	assert.NilError(t, err)
	assert.DeepEqual(t, record, Record{
		Variant:      VariantLow,
		AirTempK:     298.4,
		ProcessTempK: 308.2,
		SpeedRPM:     1582,
		TorqueNm:     70.7,
		ToolWearMin:  216,
	})
}

func TestParseInferenceTrimsWhitespace(t *testing.T) {
	record, err := ParseInference(" M , 300.1 , 309.9 , 1433 , 45.3 , 12 \n")
	assert.NilError(t, err)
	assert.Equal(t, record.Variant, VariantMedium)
	assert.Equal(t, record.SpeedRPM, 1433)
}

func TestParseInferenceRejections(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"empty", "", "expected 6 comma-separated fields"},
		{"five fields", "L,298.4,308.2,1582,70.7", "expected 6 comma-separated fields"},
		{"seven fields", "L,298.4,308.2,1582,70.7,216,0", "expected 6 comma-separated fields"},
		{"bad variant", "X,298.4,308.2,1582,70.7,216", "product variant"},
		{"bad temperature", "L,hot,308.2,1582,70.7,216", "air temperature"},
		{"fractional speed", "L,298.4,308.2,15.82,70.7,216", "rotational speed"},
		{"negative temperature", "L,-298.4,308.2,1582,70.7,216", "must be positive"},
		{"negative wear", "L,298.4,308.2,1582,70.7,-3", "tool wear"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseInference(tc.payload)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestFeaturesRoundTrip(t *testing.T) {
	payload := "H,301.5,310.8,1339,55.1,189"
	record, err := ParseInference(payload)
	assert.NilError(t, err)
	assert.Equal(t, record.Features(), payload)
}

func TestEncodedFeaturesMatchTrainingEncoding(t *testing.T) {
	for payload, want := range map[string]string{
		"L,298.4,308.2,1582,70.7,216": "0,298.4,308.2,1582,70.7,216",
		"M,300.1,309.9,1433,45.3,12":  "1,300.1,309.9,1433,45.3,12",
		"H,301.5,310.8,1339,55.1,189": "2,301.5,310.8,1339,55.1,189",
	} {
		record, err := ParseInference(payload)
		assert.NilError(t, err)
		assert.Equal(t, record.EncodedFeatures(), want)
	}
}

const canonicalCSV = `Type,Air temperature [K],Process temperature [K],Rotational speed [rpm],Torque [Nm],Tool wear [min],Machine failure
L,298.4,308.2,1582,70.7,216,1
M,300.1,309.9,1433,45.3,12,0
H,301.5,310.8,1339,55.1,189,0
`

func TestReadCanonicalFile(t *testing.T) {
	records, err := Read(strings.NewReader(canonicalCSV))
	assert.NilError(t, err)
	assert.Equal(t, len(records), 3)
	assert.Equal(t, records[0].Failure, true)
	assert.Equal(t, records[1].Variant, VariantMedium)
	assert.Equal(t, records[2].ToolWearMin, 189)
}

func TestReadRawFileWithExtraColumns(t *testing.T) {
	raw := strings.Join([]string{
		"UDI,Product ID,Type,Air temperature [K],Process temperature [K],Rotational speed [rpm],Torque [Nm],Tool wear [min],Machine failure,TWF,HDF,PWF,OSF,RNF",
		"1,L47180,L,298.4,308.2,1582,70.7,216,1,0,1,0,0,0",
		"2,M14860,M,298.1,308.6,1551,42.8,0,0,0,0,0,0,0",
	}, "\n")
	records, err := Read(strings.NewReader(raw))
	assert.NilError(t, err)
	assert.Equal(t, len(records), 2)
	assert.Equal(t, records[0].Variant, VariantLow)
	assert.Equal(t, records[0].Failure, true)
	assert.Equal(t, records[1].ToolWearMin, 0)
}

func TestReadHandlesCRLF(t *testing.T) {
	records, err := Read(strings.NewReader(strings.ReplaceAll(canonicalCSV, "\n", "\r\n")))
	assert.NilError(t, err)
	assert.Equal(t, len(records), 3)
}

func TestReadRejections(t *testing.T) {
	header := Columns
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty file", "", "dataset is empty"},
		{"header only", strings.Join(header, ",") + "\n", "no records"},
		{"missing columns", "Type,Torque [Nm]\nL,70.7\n", "missing columns"},
		{
			"short row",
			strings.Join(header, ",") + "\nL,298.4,308.2,1582,70.7\n",
			"wrong number of fields",
		},
		{
			"non-numeric cell",
			strings.Join(header, ",") + "\nL,298.4,warm,1582,70.7,216,0\n",
			"line 2",
		},
		{
			"bad label",
			strings.Join(header, ",") + "\nL,298.4,308.2,1582,70.7,216,2\n",
			"not 0 or 1",
		},
		{
			"bad variant on later line",
			strings.Join(header, ",") + "\nL,298.4,308.2,1582,70.7,216,0\nQ,298.4,308.2,1582,70.7,216,0\n",
			"line 3",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.content))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	records, err := Read(strings.NewReader(canonicalCSV))
	assert.NilError(t, err)

	var buf strings.Builder
	assert.NilError(t, Write(&buf, records))
	assert.Equal(t, buf.String(), canonicalCSV)
}
