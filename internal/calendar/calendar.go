package calendar

import (
	"slices"
	"strings"
	"time"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Policy decides how series of different lengths share one clock.
type Policy uint16

const (
	PolicyUnknown Policy = iota
	// PolicyTruncateShortest keeps only the timestamps every series has,
	// so the clock ends with the shortest one.
	PolicyTruncateShortest
	// PolicyRequireAligned fails unless every series has identical timestamps.
	PolicyRequireAligned
	// PolicyForwardFill builds the union of timestamps from the point where
	// every series has started and carries the last close over gaps.
	PolicyForwardFill
)

func (p Policy) String() string {
	switch p {
	case PolicyTruncateShortest:
		return "truncate_shortest"
	case PolicyRequireAligned:
		return "require_aligned"
	case PolicyForwardFill:
		return "forward_fill"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a config value into a Policy. Empty means
// truncate_shortest.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "truncate_shortest":
		return PolicyTruncateShortest, nil
	case "require_aligned":
		return PolicyRequireAligned, nil
	case "forward_fill", "ffill":
		return PolicyForwardFill, nil
	default:
		return PolicyUnknown, errors.Wrapf(exception.ErrInvalidConfig, "calendar policy %q", s)
	}
}

// Align validates every series and returns the shared clock together with
// copies of the series reindexed onto it.
func Align(policy Policy, series []schema.Series) ([]time.Time, []schema.Series, error) {
	if len(series) == 0 {
		return nil, nil, exception.ErrNoAssets
	}
	for _, s := range series {
		if err := instrument.Validate(s); err != nil {
			return nil, nil, err
		}
	}

	switch policy {
	case PolicyTruncateShortest:
		return truncate(series)
	case PolicyRequireAligned:
		return requireAligned(series)
	case PolicyForwardFill:
		return forwardFill(series)
	default:
		return nil, nil, errors.Wrapf(exception.ErrInvalidConfig, "calendar policy %d", policy)
	}
}

func truncate(series []schema.Series) ([]time.Time, []schema.Series, error) {
	counts := make(map[int64]int, len(series[0].Bars))
	for _, s := range series {
		for _, bar := range s.Bars {
			counts[bar.Time.UnixNano()]++
		}
	}

	clock := make([]time.Time, 0, len(series[0].Bars))
	for _, bar := range series[0].Bars {
		if counts[bar.Time.UnixNano()] == len(series) {
			clock = append(clock, bar.Time)
		}
	}
	if len(clock) == 0 {
		return nil, nil, errors.Wrap(exception.ErrCalendarMismatch, "series share no timestamp")
	}

	out := make([]schema.Series, len(series))
	for i, s := range series {
		bars := make([]schema.Bar, 0, len(clock))
		j := 0
		for _, ts := range clock {
			for !s.Bars[j].Time.Equal(ts) {
				j++
			}
			bars = append(bars, s.Bars[j])
		}
		out[i] = schema.Series{Name: s.Name, Kind: s.Kind, Bars: bars}
	}
	return clock, out, nil
}

func requireAligned(series []schema.Series) ([]time.Time, []schema.Series, error) {
	ref := series[0]
	for _, s := range series[1:] {
		if len(s.Bars) != len(ref.Bars) {
			return nil, nil, errors.Wrapf(exception.ErrCalendarMismatch, "%s has %d bars, %s has %d", s.Name, len(s.Bars), ref.Name, len(ref.Bars))
		}
		for i := range s.Bars {
			if !s.Bars[i].Time.Equal(ref.Bars[i].Time) {
				return nil, nil, errors.Wrapf(exception.ErrCalendarMismatch, "%s and %s differ at bar %d", s.Name, ref.Name, i)
			}
		}
	}
	return timestamps(ref.Bars), slices.Clone(series), nil
}

func forwardFill(series []schema.Series) ([]time.Time, []schema.Series, error) {
	start := series[0].Bars[0].Time
	seen := make(map[int64]time.Time)
	for _, s := range series {
		if first := s.Bars[0].Time; first.After(start) {
			start = first
		}
		for _, bar := range s.Bars {
			seen[bar.Time.UnixNano()] = bar.Time
		}
	}

	clock := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		if !ts.Before(start) {
			clock = append(clock, ts)
		}
	}
	slices.SortFunc(clock, func(a, b time.Time) int { return a.Compare(b) })

	out := make([]schema.Series, len(series))
	for i, s := range series {
		bars := make([]schema.Bar, 0, len(clock))
		j := 0
		var last schema.Bar
		for _, ts := range clock {
			for j < len(s.Bars) && !s.Bars[j].Time.After(ts) {
				last = s.Bars[j]
				j++
			}
			if last.Time.Equal(ts) {
				bars = append(bars, last)
				continue
			}
			bars = append(bars, schema.Bar{
				Time:   ts,
				Open:   last.Close,
				High:   last.Close,
				Low:    last.Close,
				Close:  last.Close,
				Fields: last.Fields,
			})
		}
		out[i] = schema.Series{Name: s.Name, Kind: s.Kind, Bars: bars}
	}
	return clock, out, nil
}

func timestamps(bars []schema.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, bar := range bars {
		out[i] = bar.Time
	}
	return out
}
