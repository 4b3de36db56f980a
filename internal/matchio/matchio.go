// Package matchio reads and writes point correspondence files.
//
// YAML and JSON files hold a document of the form
//
//	matches:
//	  - p1: [x1, y1]
//	    p2: [x2, y2]
//
// and CSV files hold one "x1,y1,x2,y2" row per correspondence with an
// optional header row.
package matchio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"gopkg.in/yaml.v3"
)

// Format identifies a correspondence file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrInvalidInput is returned for unreadable or malformed correspondence data.
var ErrInvalidInput = errors.New("invalid correspondence input")

// document is the YAML/JSON wire shape.
type document struct {
	Matches []Entry `json:"matches" yaml:"matches"`
}

// Entry is one correspondence as written in YAML and JSON documents.
type Entry struct {
	P1 []float64 `json:"p1" yaml:"p1,flow"`
	P2 []float64 `json:"p2" yaml:"p2,flow"`
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, s)
	}
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: cannot infer format of %q without an extension", ErrInvalidInput, path)
	}
	return ParseFormat(ext)
}

// Load reads correspondences from a file, choosing the format by extension.
func Load(path string) ([]geometry.Match2D2D, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // G304: user-supplied input file
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	matches, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return matches, nil
}

// Decode reads correspondences from r in the given format.
func Decode(r io.Reader, format Format) ([]geometry.Match2D2D, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(r)
	case FormatJSON, FormatYAML:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		var doc document
		if format == FormatJSON {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			err = dec.Decode(&doc)
		} else {
			err = yaml.Unmarshal(data, &doc)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return FromEntries(doc.Matches)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, format)
	}
}

// Encode writes correspondences to w in the given format.
func Encode(w io.Writer, matches []geometry.Match2D2D, format Format) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"x1", "y1", "x2", "y2"}); err != nil {
			return err
		}
		for _, m := range matches {
			if err := cw.Write([]string{
				formatFloat(m.P1.X), formatFloat(m.P1.Y),
				formatFloat(m.P2.X), formatFloat(m.P2.Y),
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document{Matches: ToEntries(matches)})
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(document{Matches: ToEntries(matches)}); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, format)
	}
}

// Save writes correspondences to a file, choosing the format by extension.
func Save(path string, matches []geometry.Match2D2D) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, matches, format); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// FromEntries validates entries and converts them to correspondences.
func FromEntries(entries []Entry) ([]geometry.Match2D2D, error) {
	matches := make([]geometry.Match2D2D, 0, len(entries))
	for i, e := range entries {
		if len(e.P1) != 2 || len(e.P2) != 2 {
			return nil, fmt.Errorf("%w: entry %d: p1 and p2 must each have 2 coordinates", ErrInvalidInput, i)
		}
		m := geometry.NewMatch(e.P1[0], e.P1[1], e.P2[0], e.P2[1])
		if !m.IsFinite() {
			return nil, fmt.Errorf("%w: entry %d: coordinates must be finite", ErrInvalidInput, i)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// ToEntries converts correspondences to their document form.
func ToEntries(matches []geometry.Match2D2D) []Entry {
	entries := make([]Entry, len(matches))
	for i, m := range matches {
		entries[i] = Entry{
			P1: []float64{m.P1.X, m.P1.Y},
			P2: []float64{m.P2.X, m.P2.Y},
		}
	}
	return entries
}

func decodeCSV(r io.Reader) ([]geometry.Match2D2D, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var matches []geometry.Match2D2D
	for records := 0; ; records++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		line, _ := cr.FieldPos(0)

		var v [4]float64
		for i, field := range record {
			v[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				break
			}
		}
		if err != nil {
			if records == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, line, err)
		}
		m := geometry.NewMatch(v[0], v[1], v[2], v[3])
		if !m.IsFinite() {
			return nil, fmt.Errorf("%w: line %d: coordinates must be finite", ErrInvalidInput, line)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
