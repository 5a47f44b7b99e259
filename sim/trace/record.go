// Package trace provides block-level decision recording for the engine.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// AdmissionRecord captures one attempt to admit a waiting request.
type AdmissionRecord struct {
	RequestID string
	Step      int
	Admitted  bool
	Blocks    int    // blocks held after the attempt
	Reason    string // "prefill", "resume" or "no-free-blocks" (prefill refused)
}

// GrowthRecord captures a block appended to a request's block table while decoding.
type GrowthRecord struct {
	RequestID    string
	Step         int
	LogicalIndex int
	BlockID      int64
}

// StallRecord captures a decode token that could not be backed by a block,
// either when first produced or when a stalled request retried it.
type StallRecord struct {
	RequestID string
	Step      int
	NumTokens int // prompt + output tokens already held
}

// ReleaseRecord captures the blocks returned when a request finished.
type ReleaseRecord struct {
	RequestID string
	Step      int
	BlockIDs  []int64
	Err       string // non-empty if any free was rejected by the pool
}
