package model

// RateWindowDecision is the outcome of one sliding-window evaluation.
// Count is the number of non-expired entries before any recording.
// OldestMs is the unix-millisecond timestamp of the oldest surviving
// entry, zero when the window is empty.
type RateWindowDecision struct {
	Allowed  bool
	Count    int
	OldestMs int64
}
