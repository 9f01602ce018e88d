package feed

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	yerrors "github.com/yanun0323/errors"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
)

const DefaultTimeLayout = "2006-01-02"

var timeColumns = []string{"time", "date", "datetime", "timestamp"}

// Options control CSV decoding.
type Options struct {
	// TimeLayout parses the time column. RFC3339 is tried when it fails.
	TimeLayout string
	Location   *time.Location
	Comma      rune
}

func (o Options) layout() string {
	if o.TimeLayout == "" {
		return DefaultTimeLayout
	}
	return o.TimeLayout
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// ReadCSV decodes one series. The header names the columns: a time column
// and close are required, open/high/low fall back to close and volume to
// zero. Every other numeric column becomes an optional field.
func ReadCSV(r io.Reader, name string, kind schema.InstrumentKind, opts Options) (schema.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	header, err := reader.Read()
	if err != nil {
		return schema.Series{}, errors.Wrapf(exception.ErrMalformedSeries, "%s: read header: %v", name, err)
	}
	cols, err := mapHeader(name, header)
	if err != nil {
		return schema.Series{}, err
	}

	series := schema.Series{Name: name, Kind: kind}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return schema.Series{}, errors.Wrapf(exception.ErrMalformedSeries, "%s row %d: %v", name, row, err)
		}
		bar, err := cols.bar(record, opts)
		if err != nil {
			return schema.Series{}, errors.Wrapf(err, "%s row %d", name, row)
		}
		series.Bars = append(series.Bars, bar)
	}
	if len(series.Bars) == 0 {
		return schema.Series{}, errors.Wrapf(exception.ErrMalformedSeries, "%s has no rows", name)
	}
	return series, nil
}

type columns struct {
	time, open, high, low, close, volume int
	fields                               map[string]int
}

func mapHeader(name string, header []string) (columns, error) {
	cols := columns{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1, fields: map[string]int{}}
	for i, raw := range header {
		h := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case slices.Contains(timeColumns, h) && cols.time < 0:
			cols.time = i
		case h == "open":
			cols.open = i
		case h == "high":
			cols.high = i
		case h == "low":
			cols.low = i
		case h == "close", h == "adj_close" && cols.close < 0, h == "price" && cols.close < 0:
			cols.close = i
		case h == "volume":
			cols.volume = i
		case h == "":
			return columns{}, errors.Wrapf(exception.ErrMalformedSeries, "%s: empty column name at %d", name, i)
		default:
			if _, dup := cols.fields[h]; dup {
				return columns{}, errors.Wrapf(exception.ErrMalformedSeries, "%s: duplicate column %s", name, h)
			}
			cols.fields[h] = i
		}
	}
	if cols.time < 0 || cols.close < 0 {
		return columns{}, errors.Wrapf(exception.ErrMalformedSeries, "%s: header needs a time and a close column", name)
	}
	return cols, nil
}

func (c columns) bar(record []string, opts Options) (schema.Bar, error) {
	ts, err := parseTime(record[c.time], opts)
	if err != nil {
		return schema.Bar{}, err
	}
	closePx, err := number(record, c.close, math.NaN())
	if err != nil {
		return schema.Bar{}, err
	}
	bar := schema.Bar{Time: ts, Close: closePx}
	if bar.Open, err = number(record, c.open, closePx); err != nil {
		return schema.Bar{}, err
	}
	if bar.High, err = number(record, c.high, max(bar.Open, closePx)); err != nil {
		return schema.Bar{}, err
	}
	if bar.Low, err = number(record, c.low, min(bar.Open, closePx)); err != nil {
		return schema.Bar{}, err
	}
	if bar.Volume, err = number(record, c.volume, 0); err != nil {
		return schema.Bar{}, err
	}
	if len(c.fields) > 0 {
		bar.Fields = make(map[string]float64, len(c.fields))
		for name, i := range c.fields {
			v, err := number(record, i, math.NaN())
			if err != nil {
				return schema.Bar{}, err
			}
			bar.Fields[name] = v
		}
	}
	return bar, nil
}

// number parses column i. Missing columns and empty cells yield fallback.
func number(record []string, i int, fallback float64) (float64, error) {
	if i < 0 || i >= len(record) {
		return fallback, nil
	}
	s := strings.TrimSpace(record[i])
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(exception.ErrMalformedSeries, "column %d: %q is not a number", i, s)
	}
	return v, nil
}

func parseTime(s string, opts Options) (time.Time, error) {
	s = strings.TrimSpace(s)
	ts, err := time.ParseInLocation(opts.layout(), s, opts.location())
	if err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Time{}, errors.Wrapf(exception.ErrMalformedSeries, "time %q does not match %s", s, opts.layout())
}

// NameOf derives a series name from a file path.
func NameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadFile reads one CSV file named after its base name.
func LoadFile(path string, kind schema.InstrumentKind, opts Options) (schema.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Series{}, yerrors.Wrap(err, "open series").With("path", path)
	}
	defer f.Close()
	return ReadCSV(f, NameOf(path), kind, opts)
}

// LoadGlob expands every pattern (** allowed) and loads the matches sorted by
// path. A pattern matching nothing is an error.
func LoadGlob(patterns []string, kind schema.InstrumentKind, opts Options) ([]schema.Series, error) {
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, yerrors.Wrap(err, "glob").With("pattern", pattern)
		}
		if len(matches) == 0 {
			return nil, errors.Wrapf(exception.ErrInvalidConfig, "pattern %s matches no files", pattern)
		}
		slices.Sort(matches)
		for _, m := range matches {
			if !slices.Contains(paths, m) {
				paths = append(paths, m)
			}
		}
	}

	out := make([]schema.Series, 0, len(paths))
	for _, path := range paths {
		s, err := LoadFile(path, kind, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
