package feed

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := `Date,Open,High,Low,Close,Volume,PE
2022-01-03,10,12,9,11,1000,15.5
2022-01-04,11,13,10,12,900,
`
	s, err := ReadCSV(strings.NewReader(in), "ACME", schema.InstrumentKindAsset, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ACME", s.Name)
	require.Len(t, s.Bars, 2)

	b := s.Bars[0]
	assert.Equal(t, time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC), b.Time)
	assert.Equal(t, []float64{10, 12, 9, 11, 1000}, []float64{b.Open, b.High, b.Low, b.Close, b.Volume})
	assert.Equal(t, 15.5, b.Fields["pe"])
	assert.True(t, math.IsNaN(s.Bars[1].Fields["pe"]))
}

func TestReadCSVCompletesOHLC(t *testing.T) {
	in := "timestamp,close\n2022-01-03T09:30:00Z,5\n2022-01-03T09:31:00Z,6\n"
	s, err := ReadCSV(strings.NewReader(in), "X", schema.InstrumentKindBase, Options{TimeLayout: time.RFC3339})
	require.NoError(t, err)
	b := s.Bars[1]
	assert.Equal(t, schema.InstrumentKindBase, s.Kind)
	assert.Equal(t, 6.0, b.Open)
	assert.Equal(t, 6.0, b.High)
	assert.Equal(t, 6.0, b.Low)
	assert.Equal(t, 0.0, b.Volume)
	assert.Nil(t, b.Fields)
}

func TestReadCSVFallsBackToRFC3339(t *testing.T) {
	in := "date,close\n2022-01-03T00:00:00+08:00,1\n"
	s, err := ReadCSV(strings.NewReader(in), "X", schema.InstrumentKindAsset, Options{})
	require.NoError(t, err)
	assert.True(t, s.Bars[0].Time.Equal(time.Date(2022, 1, 2, 16, 0, 0, 0, time.UTC)))
}

func TestReadCSVMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"no close":    "date,open\n2022-01-03,1\n",
		"no time":     "open,close\n1,2\n",
		"bad number":  "date,close\n2022-01-03,abc\n",
		"bad time":    "date,close\n03/01/2022,1\n",
		"no rows":     "date,close\n",
		"dup column":  "date,close,pe,PE\n2022-01-03,1,2,3\n",
		"short row":   "date,close,open\n2022-01-03,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(in), "X", schema.InstrumentKindAsset, Options{})
			assert.ErrorIs(t, err, exception.ErrMalformedSeries)
		})
	}
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, body string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("us/BBB.csv", "date,close\n2022-01-03,2\n")
	write("us/tech/AAA.csv", "date,close\n2022-01-03,1\n")
	write("notes.txt", "ignored")

	series, err := LoadGlob([]string{filepath.Join(dir, "**", "*.csv")}, schema.InstrumentKindAsset, Options{})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "BBB", series[0].Name)
	assert.Equal(t, "AAA", series[1].Name)

	_, err = LoadGlob([]string{filepath.Join(dir, "*.parquet")}, schema.InstrumentKindAsset, Options{})
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}
