package sim

import "fmt"

// KVCacheConfig groups block pool parameters for NewBlockPool.
type KVCacheConfig struct {
	TotalKVBlocks   int64 // pool capacity in blocks (must be > 0)
	BlockSizeTokens int64 // tokens per block (must be > 0)
}

// Validate rejects non-positive sizes.
func (c KVCacheConfig) Validate() error {
	if c.TotalKVBlocks <= 0 {
		return fmt.Errorf("TotalKVBlocks must be > 0, got %d", c.TotalKVBlocks)
	}
	if c.BlockSizeTokens <= 0 {
		return fmt.Errorf("BlockSizeTokens must be > 0, got %d", c.BlockSizeTokens)
	}
	return nil
}

// BatchConfig groups engine admission limits.
type BatchConfig struct {
	MaxRunningReqs int // max requests holding blocks at once (0 = unlimited)
}

// WorkloadConfig groups synthetic workload parameters used by the CLI harness.
type WorkloadConfig struct {
	NumRequests       int   // number of requests to generate
	PromptTokens      int   // mean prompt length
	PromptTokensStdev int   // prompt length stddev
	PromptTokensMin   int   // min prompt length (>= 1)
	PromptTokensMax   int   // max prompt length
	MaxTokens         int   // generation budget per request
	EndTokens         []int // token ids that stop generation
	VocabSize         int   // token ids are drawn from [0, VocabSize)
}

// Validate checks the length bounds.
func (c WorkloadConfig) Validate() error {
	if c.NumRequests < 0 {
		return fmt.Errorf("NumRequests must be >= 0, got %d", c.NumRequests)
	}
	if c.PromptTokensMin < 1 {
		return fmt.Errorf("PromptTokensMin must be >= 1, got %d", c.PromptTokensMin)
	}
	if c.PromptTokensMax < c.PromptTokensMin {
		return fmt.Errorf("PromptTokensMax (%d) < PromptTokensMin (%d)", c.PromptTokensMax, c.PromptTokensMin)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("MaxTokens must be >= 1, got %d", c.MaxTokens)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("VocabSize must be > 0, got %d", c.VocabSize)
	}
	return nil
}
