package exception

import "errors"

var (
	ErrMalformedSeries     = errors.New("simulation: malformed series")
	ErrCalendarMismatch    = errors.New("simulation: calendar mismatch")
	ErrStrategyEvaluation  = errors.New("simulation: strategy evaluation failed")
	ErrUnknownInstrument   = errors.New("simulation: unknown instrument")
	ErrDuplicateInstrument = errors.New("simulation: duplicate instrument")
	ErrNoAssets            = errors.New("simulation: no tradable instruments")
)

// IsFatal reports whether err must abort the whole run instead of being
// isolated to one instrument or one order.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrLookaheadViolation),
		errors.Is(err, ErrOutOfOrderWrite),
		errors.Is(err, ErrSeriesExhausted),
		errors.Is(err, ErrMalformedSeries),
		errors.Is(err, ErrCalendarMismatch):
		return true
	default:
		return false
	}
}
