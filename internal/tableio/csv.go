package tableio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/fileutil"
)

// Table names
const (
	HourlyTable  = "hourly"
	FeatureTable = "features"
)

// WriteHourly persists the cleaned table and its schema document
func WriteHourly(path string, table *contracts.HourlyTable) error {
	var buf bytes.Buffer
	if err := EncodeHourly(&buf, table); err != nil {
		return err
	}
	return writeWithSchema(path, buf.Bytes(), Describe(HourlyTable, contracts.HourlyTableColumns(table.Sources)))
}

// ReadHourly loads a table written by WriteHourly
func ReadHourly(path string) (*contracts.HourlyTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeHourly(f)
}

// WriteFeatures persists the feature table and its schema document
func WriteFeatures(path string, table *contracts.FeatureTable) error {
	var buf bytes.Buffer
	if err := EncodeFeatures(&buf, table); err != nil {
		return err
	}
	return writeWithSchema(path, buf.Bytes(), Describe(FeatureTable, table.Columns()))
}

// ReadFeatures loads a table written by WriteFeatures
func ReadFeatures(path string) (*contracts.FeatureTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeFeatures(f)
}

// EncodeHourly writes hourly rows as CSV
func EncodeHourly(w io.Writer, table *contracts.HourlyTable) error {
	cols := contracts.HourlyTableColumns(table.Sources)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for i := range table.Records {
		r := &table.Records[i]
		row := []string{formatTime(r.Timestamp), formatFloat(r.Price), formatFloat(r.TotalLoad), formatFloat(r.ResidualLoad)}
		row = append(row, generationCells(r, table.Sources)...)
		row = append(row, strconv.FormatBool(r.Incomplete), r.Reason())
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeHourly reads hourly rows. The header must match the hourly schema.
func DecodeHourly(r io.Reader) (*contracts.HourlyTable, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	sources := sourcesFromHeader(header)
	if err := matchHeader(contracts.HourlyTableColumns(sources), header); err != nil {
		return nil, err
	}

	table := &contracts.HourlyTable{Sources: sources}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := &parser{cells: rec}
		h := contracts.HourlyRecord{
			Timestamp:    p.timestamp(),
			Price:        p.number(),
			TotalLoad:    p.number(),
			ResidualLoad: p.number(),
			Generation:   make(map[contracts.Metric]float64, len(sources)),
		}
		for _, m := range sources {
			h.Generation[m] = p.number()
		}
		h.Incomplete = p.boolean()
		h.Reasons = splitReasons(p.str())
		if p.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, p.err)
		}
		table.Records = append(table.Records, h)
	}

	if n := len(table.Records); n > 0 {
		table.Window = contracts.TimeRange{
			Start: table.Records[0].Timestamp,
			End:   table.Records[n-1].Timestamp.Add(time.Hour),
		}
	}
	return table, nil
}

// EncodeFeatures writes feature rows as CSV
func EncodeFeatures(w io.Writer, table *contracts.FeatureTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Columns()); err != nil {
		return err
	}
	for i := range table.Rows {
		r := &table.Rows[i]
		row := []string{formatTime(r.Timestamp), formatFloat(r.Price), formatFloat(r.TotalLoad), formatFloat(r.ResidualLoad)}
		row = append(row, generationCells(&r.HourlyRecord, table.Sources)...)
		row = append(row,
			formatFloat(r.Lag1hPrice),
			formatFloat(r.Lag24hPrice),
			formatFloat(r.Lag168hPrice),
			formatFloat(r.RollingMean24hResidual),
			formatFloat(r.RollingStd24hResidual),
			formatFloat(r.RollingMean168hResidual),
			formatFloat(r.RollingMean24hPrice),
			strconv.Itoa(r.HourOfDay),
			strconv.Itoa(r.DayOfWeek),
			strconv.Itoa(r.Month),
			formatFlag(r.IsWeekend),
			formatFlag(r.IsHoliday),
			strconv.FormatBool(r.Incomplete),
			r.Reason(),
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeFeatures reads feature rows. The header must match the feature schema.
func DecodeFeatures(r io.Reader) (*contracts.FeatureTable, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	sources := sourcesFromHeader(header)
	if err := matchHeader(contracts.FeatureTableColumns(sources), header); err != nil {
		return nil, err
	}

	table := &contracts.FeatureTable{Sources: sources}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := &parser{cells: rec}
		row := contracts.FeatureRow{
			HourlyRecord: contracts.HourlyRecord{
				Timestamp:    p.timestamp(),
				Price:        p.number(),
				TotalLoad:    p.number(),
				ResidualLoad: p.number(),
				Generation:   make(map[contracts.Metric]float64, len(sources)),
			},
		}
		for _, m := range sources {
			row.Generation[m] = p.number()
		}
		row.Lag1hPrice = p.number()
		row.Lag24hPrice = p.number()
		row.Lag168hPrice = p.number()
		row.RollingMean24hResidual = p.number()
		row.RollingStd24hResidual = p.number()
		row.RollingMean168hResidual = p.number()
		row.RollingMean24hPrice = p.number()
		row.HourOfDay = p.integer()
		row.DayOfWeek = p.integer()
		row.Month = p.integer()
		row.IsWeekend = p.flag()
		row.IsHoliday = p.flag()
		row.Incomplete = p.boolean()
		row.Reasons = splitReasons(p.str())
		if p.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, p.err)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func writeWithSchema(path string, data []byte, doc Document) error {
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return err
	}
	schema, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return fileutil.WriteFileAtomic(path+".schema.json", schema)
}

func generationCells(r *contracts.HourlyRecord, sources []contracts.Metric) []string {
	cells := make([]string, 0, len(sources))
	for _, m := range sources {
		v, ok := r.Generation[m]
		if !ok {
			v = math.NaN()
		}
		cells = append(cells, formatFloat(v))
	}
	return cells
}

func sourcesFromHeader(header []string) []contracts.Metric {
	var sources []contracts.Metric
	for _, c := range header {
		if m, ok := contracts.GenerationMetricFromColumn(c); ok {
			sources = append(sources, m)
		}
	}
	return sources
}

func matchHeader(expected, header []string) error {
	if len(expected) != len(header) {
		return contracts.NewSchemaMismatch(expected, header)
	}
	for i := range expected {
		if expected[i] != header[i] {
			return contracts.NewSchemaMismatch(expected, header)
		}
	}
	return nil
}

// formatFloat uses the shortest representation that parses back to the
// same bits; NaN is written as an empty cell
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func splitReasons(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}

// parser consumes cells left to right and keeps the first error
type parser struct {
	cells []string
	pos   int
	err   error
}

func (p *parser) next() string {
	if p.pos >= len(p.cells) {
		if p.err == nil {
			p.err = fmt.Errorf("expected more than %d cells", len(p.cells))
		}
		return ""
	}
	s := p.cells[p.pos]
	p.pos++
	return s
}

func (p *parser) fail(kind, s string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("column %d: invalid %s %q: %w", p.pos, kind, s, err)
	}
}

func (p *parser) str() string { return p.next() }

func (p *parser) number() float64 {
	s := p.next()
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail("float", s, err)
	}
	return v
}

func (p *parser) integer() int {
	s := p.next()
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail("int", s, err)
	}
	return v
}

func (p *parser) boolean() bool {
	s := p.next()
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail("bool", s, err)
	}
	return v
}

func (p *parser) flag() bool {
	s := p.next()
	switch s {
	case "1":
		return true
	case "0":
		return false
	}
	p.fail("flag", s, fmt.Errorf("want 0 or 1"))
	return false
}

func (p *parser) timestamp() time.Time {
	s := p.next()
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		p.fail("timestamp", s, err)
	}
	return t.UTC()
}
