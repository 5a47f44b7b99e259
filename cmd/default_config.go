package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	sim "github.com/inference-sim/nanobatch/sim"
)

// KVCacheSection mirrors sim.KVCacheConfig in the config file.
type KVCacheSection struct {
	TotalKVBlocks   int64 `yaml:"total_kv_blocks"`
	BlockSizeTokens int64 `yaml:"block_size_in_tokens"`
}

// BatchSection mirrors sim.BatchConfig in the config file.
type BatchSection struct {
	MaxRunningReqs int `yaml:"max_num_running_reqs"`
}

// WorkloadSection mirrors sim.WorkloadConfig in the config file.
type WorkloadSection struct {
	NumRequests       int   `yaml:"num_requests"`
	PromptTokensMean  int   `yaml:"prompt_tokens"`
	PromptTokensStdev int   `yaml:"prompt_tokens_stdev"`
	PromptTokensMin   int   `yaml:"prompt_tokens_min"`
	PromptTokensMax   int   `yaml:"prompt_tokens_max"`
	MaxTokens         int   `yaml:"max_tokens"`
	EndTokens         []int `yaml:"end_tokens"`
	VocabSize         int   `yaml:"vocab_size"`
}

// Config represents the full engine config file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Seed     *int64           `yaml:"seed"`
	MaxSteps *int             `yaml:"max_steps"`
	Trace    string           `yaml:"trace"`
	KVCache  *KVCacheSection  `yaml:"kv_cache"`
	Batch    *BatchSection    `yaml:"batch"`
	Workload *WorkloadSection `yaml:"workload"`
}

// loadConfig parses an engine config file with strict field checking:
// unknown keys are errors so typos do not silently fall back to defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// runOptions is everything a run needs, after flags and config file are merged.
type runOptions struct {
	Seed     int64
	MaxSteps int
	Trace    string
	KVCache  sim.KVCacheConfig
	Batch    sim.BatchConfig
	Workload sim.WorkloadConfig
}

// apply overlays the config file onto opts. changed reports whether a flag was
// set explicitly on the command line; explicit flags always win over the file.
func (cfg *Config) apply(opts *runOptions, changed func(flag string) bool) {
	setInt64 := func(flag string, dst *int64, v int64) {
		if !changed(flag) {
			*dst = v
		}
	}
	setInt := func(flag string, dst *int, v int) {
		if !changed(flag) {
			*dst = v
		}
	}

	if cfg.Seed != nil {
		setInt64("seed", &opts.Seed, *cfg.Seed)
	}
	if cfg.MaxSteps != nil {
		setInt("max-steps", &opts.MaxSteps, *cfg.MaxSteps)
	}
	if cfg.Trace != "" && !changed("trace") {
		opts.Trace = cfg.Trace
	}
	if kv := cfg.KVCache; kv != nil {
		if kv.TotalKVBlocks != 0 {
			setInt64("total-kv-blocks", &opts.KVCache.TotalKVBlocks, kv.TotalKVBlocks)
		}
		if kv.BlockSizeTokens != 0 {
			setInt64("block-size-in-tokens", &opts.KVCache.BlockSizeTokens, kv.BlockSizeTokens)
		}
	}
	if b := cfg.Batch; b != nil && b.MaxRunningReqs != 0 {
		setInt("max-num-running-reqs", &opts.Batch.MaxRunningReqs, b.MaxRunningReqs)
	}
	if w := cfg.Workload; w != nil {
		for _, f := range []struct {
			flag string
			dst  *int
			v    int
		}{
			{"num-requests", &opts.Workload.NumRequests, w.NumRequests},
			{"prompt-tokens", &opts.Workload.PromptTokens, w.PromptTokensMean},
			{"prompt-tokens-stdev", &opts.Workload.PromptTokensStdev, w.PromptTokensStdev},
			{"prompt-tokens-min", &opts.Workload.PromptTokensMin, w.PromptTokensMin},
			{"prompt-tokens-max", &opts.Workload.PromptTokensMax, w.PromptTokensMax},
			{"max-tokens", &opts.Workload.MaxTokens, w.MaxTokens},
			{"vocab-size", &opts.Workload.VocabSize, w.VocabSize},
		} {
			if f.v != 0 {
				setInt(f.flag, f.dst, f.v)
			}
		}
		if w.EndTokens != nil && !changed("end-tokens") {
			opts.Workload.EndTokens = w.EndTokens
		}
	}
}
