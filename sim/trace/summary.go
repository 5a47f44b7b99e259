package trace

// TraceSummary aggregates statistics from a BlockTrace.
type TraceSummary struct {
	AdmissionAttempts int
	AdmittedCount     int
	RejectedCount     int
	BlocksGrown       int
	StallCount        int
	BlocksReleased    int
	FailedReleases    int
	UniqueBlocks      int            // distinct physical ids seen in growths and releases
	StallsPerRequest  map[string]int // request ID -> number of stalls
}

// Summarize computes aggregate statistics from a BlockTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(bt *BlockTrace) *TraceSummary {
	summary := &TraceSummary{
		StallsPerRequest: make(map[string]int),
	}
	if bt == nil {
		return summary
	}

	summary.AdmissionAttempts = len(bt.Admissions)
	for _, a := range bt.Admissions {
		if a.Admitted {
			summary.AdmittedCount++
		} else {
			summary.RejectedCount++
		}
	}

	seen := make(map[int64]struct{})
	summary.BlocksGrown = len(bt.Growths)
	for _, g := range bt.Growths {
		seen[g.BlockID] = struct{}{}
	}

	summary.StallCount = len(bt.Stalls)
	for _, s := range bt.Stalls {
		summary.StallsPerRequest[s.RequestID]++
	}

	for _, r := range bt.Releases {
		summary.BlocksReleased += len(r.BlockIDs)
		if r.Err != "" {
			summary.FailedReleases++
		}
		for _, id := range r.BlockIDs {
			seen[id] = struct{}{}
		}
	}
	summary.UniqueBlocks = len(seen)

	return summary
}
