package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"safeguard/internal/normalize"
)

var reKV = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)=("[^"]*"|[^\s,]+)`)

// Parser reads one record per line: a JSON object, a CSV row after a
// header line, or space separated key=value pairs. CSV headers are
// remembered, so use one Parser per stream.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.Fields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if trim[0] == '{' {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err != nil || fields == nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func parsePlain(line string) *normalize.Fields {
	fields := &normalize.Fields{Values: map[string]string{}}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		fields.Values[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	return fields
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse returns nil fields for the header row. Rows before a header are
// rejected since columns cannot be named.
func (p *CSVParser) Parse(line string) (*normalize.Fields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	if p.header == nil {
		return nil, errNoHeader
	}
	fields := &normalize.Fields{Values: map[string]string{}}
	for i, name := range p.header {
		if i >= len(record) {
			break
		}
		fields.Values[name] = strings.TrimSpace(record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "timestamp", "time", "ts", "device_id", "band_id", "device", "speed_kmh", "speed", "latitude", "lat":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
