package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/machinist-ai/machinist/pkg/check"
)

// Read decodes dataset records from CSV. The first row must be a header
// naming at least the canonical columns; extra columns (identifiers,
// failure-mode flags) are ignored. Every parse failure carries the offending
// line number.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("dataset is empty, expected a header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot read header row")
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError messages already carry the line number.
			return nil, errors.Wrap(err, "malformed row")
		}
		line, _ := cr.FieldPos(0)
		record, err := decodeRow(row, index)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, errors.New("dataset has a header but no records")
	}
	return records, nil
}

// ReadFile decodes the dataset file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open dataset %s", path)
	}
	defer f.Close()
	records, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %s", path)
	}
	return records, nil
}

// columnIndex maps the canonical columns to their positions in the header.
func columnIndex(header []string) (map[string]int, error) {
	position := make(map[string]int, len(header))
	for i, name := range header {
		position[strings.TrimSpace(name)] = i
	}
	index := make(map[string]int, len(Columns))
	var missing []string
	for _, name := range Columns {
		pos, ok := position[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		index[name] = pos
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("header is missing columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func decodeRow(row []string, index map[string]int) (Record, error) {
	field := func(name string) string {
		pos := index[name]
		if pos >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[pos])
	}

	var record Record
	var err error
	record.Variant = Variant(field(ColumnVariant))
	if record.AirTempK, err = strconv.ParseFloat(field(ColumnAirTemp), 64); err != nil {
		return Record{}, errors.Errorf("air temperature %q is not numeric", field(ColumnAirTemp))
	}
	if record.ProcessTempK, err = strconv.ParseFloat(field(ColumnProcessTemp), 64); err != nil {
		return Record{}, errors.Errorf("process temperature %q is not numeric", field(ColumnProcessTemp))
	}
	if record.SpeedRPM, err = strconv.Atoi(field(ColumnSpeed)); err != nil {
		return Record{}, errors.Errorf("rotational speed %q is not an integer", field(ColumnSpeed))
	}
	if record.TorqueNm, err = strconv.ParseFloat(field(ColumnTorque), 64); err != nil {
		return Record{}, errors.Errorf("torque %q is not numeric", field(ColumnTorque))
	}
	if record.ToolWearMin, err = strconv.Atoi(field(ColumnToolWear)); err != nil {
		return Record{}, errors.Errorf("tool wear %q is not an integer", field(ColumnToolWear))
	}
	switch field(ColumnFailure) {
	case "0":
		record.Failure = false
	case "1":
		record.Failure = true
	default:
		return Record{}, errors.Errorf("failure label %q is not 0 or 1", field(ColumnFailure))
	}
	if err := check.Validate(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Write encodes records in the canonical column order with a header row.
func Write(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return errors.Wrap(err, "cannot write header")
	}
	for _, record := range records {
		label := "0"
		if record.Failure {
			label = "1"
		}
		row := append(strings.Split(record.Features(), ","), label)
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "cannot write record")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "cannot flush records")
}

// WriteFile encodes records to a new file at path.
func WriteFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", path)
	}
	if err := Write(f, records); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}
