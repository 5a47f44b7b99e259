// Tracks engine-wide statistics such as completed requests, token counts,
// backpressure events and block usage.

package sim

// Metrics aggregates statistics about an engine run
// for final reporting.
type Metrics struct {
	Steps             int // Number of planned steps
	CompletedRequests int // Number of requests finished
	TotalInputTokens  int // Prompt tokens of finished requests
	TotalOutputTokens int // Generated tokens of finished requests

	AdmissionStalls int // Steps where the head of the waiting queue could not be prefilled
	DecodeStalls    int // Decode appends, first tries and retries, that found no free block
	InvalidFrees    int // Releases rejected by the pool (caller bugs)

	UsedBlocksSum  int64 // Integral of used blocks over steps
	PeakUsedBlocks int64 // Max number of simultaneously used blocks
}

// NewMetrics returns zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// observeUsage samples block usage at the end of a step.
func (m *Metrics) observeUsage(used int64) {
	m.UsedBlocksSum += used
	m.notePeak(used)
}

func (m *Metrics) notePeak(used int64) {
	if used > m.PeakUsedBlocks {
		m.PeakUsedBlocks = used
	}
}

// AvgUsedBlocks returns the mean number of used blocks per step.
func (m *Metrics) AvgUsedBlocks() float64 {
	if m.Steps == 0 {
		return 0
	}
	return float64(m.UsedBlocksSum) / float64(m.Steps)
}
