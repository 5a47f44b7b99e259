package sim

import (
	"fmt"
)

// GenerateRequests builds cfg.NumRequests waiting_prefill requests with
// Gaussian prompt lengths drawn from the SubsystemWorkload stream.
// Ids are "request_<n>" so runs with the same seed are comparable.
func GenerateRequests(rng *PartitionedRNG, cfg WorkloadConfig) ([]*Request, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("workload config: %w", err)
	}
	requests := make([]*Request, 0, cfg.NumRequests)
	for i := 0; i < cfg.NumRequests; i++ {
		requests = append(requests, NewRequest(fmt.Sprintf("request_%d", i), rng.Prompt(cfg), cfg.MaxTokens, cfg.EndTokens))
	}
	return requests, nil
}

// TokenSampler stands in for the model: it returns one decode token per
// scheduled request, drawn from the SubsystemDecode stream.
type TokenSampler struct {
	rng   *PartitionedRNG
	vocab int
}

// NewTokenSampler creates a sampler over [0, vocab).
func NewTokenSampler(rng *PartitionedRNG, vocab int) *TokenSampler {
	return &TokenSampler{rng: rng, vocab: vocab}
}

// Sample returns a token for every scheduled request of out, in scheduling order.
func (s *TokenSampler) Sample(out *StepOutput) map[string]int {
	tokens := make(map[string]int, len(out.ScheduledRequests))
	for _, id := range out.ScheduledRequests {
		tokens[id] = s.rng.DecodeToken(s.vocab)
	}
	return tokens
}
