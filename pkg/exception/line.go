package exception

import "errors"

// Line buffer errors. Everything here except ErrInsufficientHistory aborts a run.
var (
	ErrLookaheadViolation  = errors.New("line: lookahead violation")
	ErrOutOfOrderWrite     = errors.New("line: out of order write")
	ErrSeriesExhausted     = errors.New("line: series exhausted")
	ErrInsufficientHistory = errors.New("line: insufficient history")
	ErrUnknownLine         = errors.New("line: unknown line")
)
