package indicator

import (
	"runtime"
	"strings"

	"github.com/yanun0323/logs"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Mode selects how derived lines are produced.
type Mode uint16

const (
	ModeAuto Mode = iota
	ModeVectorized
	ModeIncremental
)

func (m Mode) String() string {
	switch m {
	case ModeVectorized:
		return "vectorized"
	case ModeIncremental:
		return "incremental"
	default:
		return "auto"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode converts a config value into a Mode. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "vectorized":
		return ModeVectorized, nil
	case "incremental":
		return ModeIncremental, nil
	default:
		return ModeAuto, errors.Wrapf(exception.ErrInvalidConfig, "line mode %q", s)
	}
}

// Policy bounds the memory spent on whole-history precomputation. Zero
// values disable the corresponding limit.
type Policy struct {
	Mode               Mode
	MemoryCeilingBytes int64
	MaxInstruments     int
	MaxLength          int
	Workers            int
}

// EstimateBytes is the footprint of holding every derived line in full.
func EstimateBytes(instruments, lines, length int) int64 {
	return int64(instruments) * int64(lines) * int64(length) * 8
}

// Select resolves the mode for a run. Vectorized evaluation is chosen unless
// the estimated footprint or the size thresholds are exceeded. An explicit
// vectorized mode is still bound by the memory ceiling.
func (p Policy) Select(instruments, lines, length int) Mode {
	footprint := EstimateBytes(instruments, lines, length)
	overCeiling := p.MemoryCeilingBytes > 0 && footprint > p.MemoryCeilingBytes
	switch p.Mode {
	case ModeIncremental:
		return ModeIncremental
	case ModeVectorized:
		if overCeiling {
			logs.Infof("vectorized lines need %d bytes over the %d byte ceiling, falling back to incremental", footprint, p.MemoryCeilingBytes)
			return ModeIncremental
		}
		return ModeVectorized
	}
	if overCeiling {
		return ModeIncremental
	}
	if p.MaxInstruments > 0 && instruments > p.MaxInstruments {
		return ModeIncremental
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		return ModeIncremental
	}
	return ModeVectorized
}

// WorkerCount bounds vectorized workers so concurrent per-instrument scratch
// (inputs plus outputs) stays under the memory ceiling.
func (p Policy) WorkerCount(linesPerInstrument, length int) int {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if p.MemoryCeilingBytes > 0 {
		per := EstimateBytes(1, linesPerInstrument, length)
		if per > 0 {
			workers = min(workers, int(max(1, p.MemoryCeilingBytes/per)))
		}
	}
	return max(1, workers)
}

// NewEvaluator returns the evaluator for a concrete mode.
func (p Policy) NewEvaluator(mode Mode, linesPerInstrument, length int) Evaluator {
	if mode == ModeVectorized {
		return &VectorizedEvaluator{Workers: p.WorkerCount(linesPerInstrument, length)}
	}
	return &IncrementalEvaluator{}
}
