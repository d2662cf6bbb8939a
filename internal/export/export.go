package export

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
)

// Format is the record encoding of an export file.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (expected csv or jsonl)", s)
	}
}

// FormatFromPath infers the format from a file name, ignoring any
// compression suffix. Unknown names are CSV.
func FormatFromPath(path string) Format {
	trimmed := strings.TrimSuffix(path, CompressionFromPath(path).Extension())
	if strings.HasSuffix(trimmed, ".jsonl") || strings.HasSuffix(trimmed, ".ndjson") {
		return FormatJSONL
	}
	return FormatCSV
}

// Row is one exported sample.
type Row struct {
	Entity    string    `json:"entity"`
	Source    string    `json:"source"`
	Counter   string    `json:"counter"`
	Instance  string    `json:"instance,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

var csvHeader = []string{"entity", "source", "counter", "instance", "timestamp", "value"}

// Writer encodes rows in one format.
type Writer struct {
	format Format
	csv    *csv.Writer
	json   *json.Encoder
	rows   int64
}

// NewEncoder returns a Writer encoding rows onto w. CSV output starts with
// a header row.
func NewEncoder(w io.Writer, format Format) (*Writer, error) {
	enc := &Writer{format: format}
	switch format {
	case FormatCSV:
		enc.csv = csv.NewWriter(w)
		if err := enc.csv.Write(csvHeader); err != nil {
			return nil, err
		}
	case FormatJSONL:
		enc.json = json.NewEncoder(w)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	return enc, nil
}

// WriteSamples writes every sample of set for entity, tagged with source.
func (e *Writer) WriteSamples(entity, source string, set metrics.SampleSet) error {
	for _, s := range set {
		row := Row{
			Entity:    entity,
			Source:    source,
			Counter:   s.Metric.Counter,
			Instance:  s.Metric.Instance,
			Timestamp: s.Timestamp.UTC(),
			Value:     s.Value,
		}
		if err := e.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Write encodes one row.
func (e *Writer) Write(row Row) error {
	var err error
	switch e.format {
	case FormatCSV:
		err = e.csv.Write([]string{
			row.Entity,
			row.Source,
			row.Counter,
			row.Instance,
			row.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(row.Value, 'g', -1, 64),
		})
	default:
		err = e.json.Encode(row)
	}
	if err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	e.rows++
	return nil
}

// Rows returns the number of rows written.
func (e *Writer) Rows() int64 {
	return e.rows
}

// Flush flushes buffered CSV output.
func (e *Writer) Flush() error {
	if e.csv != nil {
		e.csv.Flush()
		return e.csv.Error()
	}
	return nil
}

// Summary describes a finished export file.
type Summary struct {
	Path        string      `json:"path"`
	Format      Format      `json:"format"`
	Compression Compression `json:"compression"`
	Rows        int64       `json:"rows"`
	SizeBytes   int64       `json:"size_bytes"`
	Checksum    string      `json:"checksum"` // sha256 of the file as written
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteFile creates path and lets fill write rows into it. The file is
// removed when fill fails.
func WriteFile(path string, format Format, compression Compression, fill func(*Writer) error) (*Summary, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	summary, err := writeTo(file, format, compression, fill)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	summary.Path = path
	return summary, nil
}

func writeTo(file io.Writer, format Format, compression Compression, fill func(*Writer) error) (*Summary, error) {
	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(file, hash)}

	buffered := bufio.NewWriter(counter)
	compressor, err := NewWriter(buffered, compression)
	if err != nil {
		return nil, err
	}

	enc, err := NewEncoder(compressor, format)
	if err != nil {
		compressor.Close()
		return nil, err
	}
	if err := fill(enc); err != nil {
		compressor.Close()
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		compressor.Close()
		return nil, err
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("failed to close compression writer: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return nil, err
	}

	return &Summary{
		Format:      format,
		Compression: compression,
		Rows:        enc.Rows(),
		SizeBytes:   counter.n,
		Checksum:    hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// ReadFile decodes an export file, inferring format and compression from
// its name.
func ReadFile(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r, err := NewReader(file, CompressionFromPath(path))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return Decode(r, FormatFromPath(path))
}

// Decode reads every row from r.
func Decode(r io.Reader, format Format) ([]Row, error) {
	if format == FormatJSONL {
		var rows []Row
		dec := json.NewDecoder(r)
		for {
			var row Row
			if err := dec.Decode(&row); errors.Is(err, io.EOF) {
				return rows, nil
			} else if err != nil {
				return nil, fmt.Errorf("failed to decode row %d: %w", len(rows)+1, err)
			}
			rows = append(rows, row)
		}
	}

	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", i+1, len(csvHeader), len(rec))
		}
		ts, err := time.Parse(time.RFC3339, rec[4])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, Row{
			Entity:    rec[0],
			Source:    rec[1],
			Counter:   rec[2],
			Instance:  rec[3],
			Timestamp: ts,
			Value:     v,
		})
	}
	return rows, nil
}
