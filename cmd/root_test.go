package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/inference-sim/nanobatch/sim"
)

func testRunOptions() runOptions {
	return runOptions{
		Seed:     42,
		MaxSteps: 10000,
		Trace:    "blocks",
		KVCache:  sim.KVCacheConfig{TotalKVBlocks: 128, BlockSizeTokens: 16},
		Batch:    sim.BatchConfig{MaxRunningReqs: 4},
		Workload: sim.WorkloadConfig{
			NumRequests:       25,
			PromptTokens:      64,
			PromptTokensStdev: 32,
			PromptTokensMin:   2,
			PromptTokensMax:   256,
			MaxTokens:         32,
			VocabSize:         1000,
		},
	}
}

func TestRunEngine_DrainsWorkloadAndReturnsEveryBlock(t *testing.T) {
	// GIVEN a pool large enough for 4 concurrent requests of at most 288 tokens
	opts := testRunOptions()

	// WHEN the engine runs
	res, err := runEngine(opts)

	// THEN every request finished and the pool is whole again
	require.NoError(t, err)
	assert.True(t, res.Drained)
	assert.Equal(t, 25, res.Engine.Metrics().CompletedRequests)
	assert.Equal(t, int64(0), res.Pool.UsedBlocks())
	assert.Equal(t, 0, res.Engine.Metrics().InvalidFrees)
	require.NotNil(t, res.Trace)
}

func TestRunEngine_SameSeed_SameMetrics(t *testing.T) {
	a, err := runEngine(testRunOptions())
	require.NoError(t, err)
	b, err := runEngine(testRunOptions())
	require.NoError(t, err)

	assert.Equal(t, *a.Engine.Metrics(), *b.Engine.Metrics())
}

func TestRunEngine_StalledPool_StopsInsteadOfSpinning(t *testing.T) {
	// GIVEN two requests that each fill one of two blocks and then need another
	opts := testRunOptions()
	opts.KVCache = sim.KVCacheConfig{TotalKVBlocks: 2, BlockSizeTokens: 2}
	opts.Batch = sim.BatchConfig{}
	opts.Workload.NumRequests = 2
	opts.Workload.PromptTokensMin = 2
	opts.Workload.PromptTokensMax = 2
	opts.Workload.MaxTokens = 10

	// WHEN the engine runs
	res, err := runEngine(opts)

	// THEN it gives up after the pool deadlocks rather than running to MaxSteps
	require.NoError(t, err)
	assert.False(t, res.Drained)
	assert.Equal(t, 2, res.Engine.NumLive())
	assert.Less(t, res.Engine.CurrentStep(), 10)
	assert.Equal(t, int64(2), res.Pool.UsedBlocks())
}

func TestRunEngine_OversizedPrompts_AreSkipped(t *testing.T) {
	// GIVEN prompts of 8..40 tokens against a pool of 4 blocks of 4 (16 tokens)
	opts := testRunOptions()
	opts.KVCache = sim.KVCacheConfig{TotalKVBlocks: 4, BlockSizeTokens: 4}
	opts.Batch = sim.BatchConfig{MaxRunningReqs: 1}
	opts.Workload.NumRequests = 20
	opts.Workload.PromptTokens = 16
	opts.Workload.PromptTokensMin = 8
	opts.Workload.PromptTokensMax = 40
	opts.Workload.MaxTokens = 1

	// WHEN the engine runs
	res, err := runEngine(opts)

	// THEN the run is not aborted: requests that can never fit are dropped, the rest are kept
	require.NoError(t, err)
	kept := res.Engine.Metrics().CompletedRequests + res.Engine.NumLive()
	assert.Greater(t, kept, 0)
	assert.Less(t, kept, 20)
	assert.Greater(t, res.Engine.CurrentStep(), 0)
}

func TestRunEngine_InvalidOptions(t *testing.T) {
	opts := testRunOptions()
	opts.Trace = "everything"
	_, err := runEngine(opts)
	assert.Error(t, err)

	opts = testRunOptions()
	opts.KVCache.BlockSizeTokens = 0
	_, err = runEngine(opts)
	assert.Error(t, err)

	opts = testRunOptions()
	opts.Workload.VocabSize = 0
	_, err = runEngine(opts)
	assert.Error(t, err)

	opts = testRunOptions()
	opts.Workload.MaxTokens = 0
	_, err = runEngine(opts)
	assert.Error(t, err)
}

func TestPrintReport_ListsMetrics(t *testing.T) {
	// GIVEN a finished run
	res, err := runEngine(testRunOptions())
	require.NoError(t, err)

	// WHEN the report is printed
	var buf bytes.Buffer
	printReport(&buf, res, 1500*time.Millisecond)
	output := buf.String()

	// THEN the header and the key metrics appear
	assert.Contains(t, output, "Engine Metrics")
	assert.Contains(t, output, "completed_requests")
	assert.Contains(t, output, "peak_used_blocks")
	assert.Contains(t, output, "trace_blocks_released")
	assert.Contains(t, output, "1.5s")
}
