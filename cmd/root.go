package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/inference-sim/nanobatch/sim"
	_ "github.com/inference-sim/nanobatch/sim/kv" // registers the block allocator
	"github.com/inference-sim/nanobatch/sim/trace"
)

var (
	// CLI flags for the block pool and engine
	seed            int64  // Seed for workload and synthetic decode tokens
	maxSteps        int    // Stop after this many steps even if requests remain
	logLevel        string // Log verbosity level
	configPath      string // Optional YAML config file
	traceLevel      string // Block trace level
	totalKVBlocks   int64  // Total number of blocks in the pool
	blockSizeTokens int64  // Number of tokens per block
	maxRunningReqs  int    // Maximum number of requests holding blocks

	// CLI flags for the synthetic workload
	numRequests       int   // Number of requests
	promptTokensMean  int   // Average Prompt Token Count
	promptTokensStdev int   // Stdev Prompt Token Count
	promptTokensMin   int   // Min Prompt Token Count
	promptTokensMax   int   // Max Prompt Token Count
	maxTokens         int   // Generation budget per request
	endTokens         []int // Token ids that stop generation
	vocabSize         int   // Token ids are drawn from [0, vocab-size)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nanobatch",
	Short: "Paged block allocator and request lifecycle harness",
}

// runResult is what a finished run reports.
type runResult struct {
	Engine  *sim.Engine
	Pool    sim.BlockPool
	Trace   *trace.BlockTrace
	Drained bool // every request finished; false after MaxSteps or when stalled requests deadlock the pool
}

// runEngine drives a synthetic workload through a fresh pool until every
// request finishes or opts.MaxSteps is reached.
func runEngine(opts runOptions) (*runResult, error) {
	if err := opts.KVCache.Validate(); err != nil {
		return nil, fmt.Errorf("kv cache config: %w", err)
	}
	if !trace.IsValidTraceLevel(opts.Trace) {
		return nil, fmt.Errorf("unknown trace level %q", opts.Trace)
	}

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(opts.Seed))
	requests, err := sim.GenerateRequests(rng, opts.Workload)
	if err != nil {
		return nil, err
	}

	pool := sim.NewBlockPool(opts.KVCache)
	var tr *trace.BlockTrace
	if trace.TraceLevel(opts.Trace) == trace.TraceLevelBlocks {
		tr = trace.NewBlockTrace(trace.TraceConfig{Level: trace.TraceLevelBlocks})
	}
	engine := sim.NewEngine(pool, opts.Batch, tr)
	for _, req := range requests {
		if err := engine.Submit(req); err != nil {
			if errors.Is(err, sim.ErrExceedsPool) {
				logrus.Warnf("skipping request: %v", err)
				continue
			}
			return nil, err
		}
	}

	sampler := sim.NewTokenSampler(rng, opts.Workload.VocabSize)
	for !engine.Done() && engine.CurrentStep() < opts.MaxSteps {
		finishedBefore := len(engine.Finished())
		out := engine.Step()
		if len(out.ScheduledRequests) == 0 && len(engine.Finished()) == finishedBefore {
			// nothing runs and nothing can free a block; eviction is not implemented
			logrus.Warnf("step %d: every live request is waiting on blocks held by stalled requests", out.Step)
			break
		}
		if err := engine.Update(sampler.Sample(out)); err != nil {
			// per-request failures; the run continues with the others
			logrus.Warnf("step %d: %v", out.Step, err)
		}
	}

	return &runResult{Engine: engine, Pool: pool, Trace: tr, Drained: engine.Done()}, nil
}

// runCmd executes the engine using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic workload through the block allocator",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		opts := runOptions{
			Seed:     seed,
			MaxSteps: maxSteps,
			Trace:    traceLevel,
			KVCache:  sim.KVCacheConfig{TotalKVBlocks: totalKVBlocks, BlockSizeTokens: blockSizeTokens},
			Batch:    sim.BatchConfig{MaxRunningReqs: maxRunningReqs},
			Workload: sim.WorkloadConfig{
				NumRequests:       numRequests,
				PromptTokens:      promptTokensMean,
				PromptTokensStdev: promptTokensStdev,
				PromptTokensMin:   promptTokensMin,
				PromptTokensMax:   promptTokensMax,
				MaxTokens:         maxTokens,
				EndTokens:         endTokens,
				VocabSize:         vocabSize,
			},
		}
		if configPath != "" {
			cfg, err := loadConfig(configPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			cfg.apply(&opts, cmd.Flags().Changed)
		}

		logrus.Infof("Starting run with %d blocks of %d tokens, %d requests, seed=%d",
			opts.KVCache.TotalKVBlocks, opts.KVCache.BlockSizeTokens, opts.Workload.NumRequests, opts.Seed)

		startTime := time.Now()
		res, err := runEngine(opts)
		if err != nil {
			logrus.Fatalf("run failed: %v", err)
		}
		if !res.Drained {
			logrus.Warnf("stopped after %d steps with %d requests unfinished", res.Engine.CurrentStep(), res.Engine.NumLive())
		}
		printReport(os.Stdout, res, time.Since(startTime))

		logrus.Info("Run complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {

	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for workload and decode token generation")
	runCmd.Flags().IntVar(&maxSteps, "max-steps", 100000, "Stop after this many engine steps")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML config file; explicitly set flags override it")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Block trace level (none, blocks)")

	// Block pool configs
	runCmd.Flags().Int64Var(&totalKVBlocks, "total-kv-blocks", 1024, "Total number of KV cache blocks")
	runCmd.Flags().Int64Var(&blockSizeTokens, "block-size-in-tokens", 16, "Number of tokens contained in a KV cache block")
	runCmd.Flags().IntVar(&maxRunningReqs, "max-num-running-reqs", 64, "Maximum number of requests holding blocks (0 = unlimited)")

	// Synthetic workload configs
	runCmd.Flags().IntVar(&numRequests, "num-requests", 100, "Number of requests")
	runCmd.Flags().IntVar(&promptTokensMean, "prompt-tokens", 128, "Average Prompt Token Count")
	runCmd.Flags().IntVar(&promptTokensStdev, "prompt-tokens-stdev", 64, "Stddev Prompt Token Count")
	runCmd.Flags().IntVar(&promptTokensMin, "prompt-tokens-min", 2, "Min Prompt Token Count")
	runCmd.Flags().IntVar(&promptTokensMax, "prompt-tokens-max", 1024, "Max Prompt Token Count")
	runCmd.Flags().IntVar(&maxTokens, "max-tokens", 100, "Maximum tokens generated per request")
	runCmd.Flags().IntSliceVar(&endTokens, "end-tokens", nil, "Comma-separated token ids that end generation")
	runCmd.Flags().IntVar(&vocabSize, "vocab-size", 32000, "Synthetic vocabulary size")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
