// Seeded randomness for synthetic runs. Prompts and stand-in decode tokens are
// drawn from separate streams, so how many tokens a run decodes never changes
// the prompts it generates.

package sim

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// SimulationKey identifies a reproducible engine run: the same key and
// configuration give the same step outputs.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Subsystem names one random stream of a run.
type Subsystem string

const (
	SubsystemWorkload Subsystem = "workload" // prompt lengths and prompt token ids
	SubsystemDecode   Subsystem = "decode"   // tokens produced in place of a model
)

// seed derives the stream seed for s. The workload stream is seeded with the
// key itself; every other stream XORs in the FNV-1a hash of its name.
func (s Subsystem) seed(key SimulationKey) int64 {
	if s == SubsystemWorkload {
		return int64(key)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(key) ^ int64(h.Sum64())
}

// PartitionedRNG hands out one cached *rand.Rand per Subsystem, all derived
// from a single SimulationKey. Not safe for concurrent use.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[Subsystem]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, streams: make(map[Subsystem]*rand.Rand)}
}

// Stream returns the stream for s, creating it on first use.
func (p *PartitionedRNG) Stream(s Subsystem) *rand.Rand {
	if r, ok := p.streams[s]; ok {
		return r
	}
	r := rand.New(rand.NewSource(s.seed(p.key)))
	p.streams[s] = r
	return r
}

// Key returns the SimulationKey the streams derive from.
func (p *PartitionedRNG) Key() SimulationKey { return p.key }

// Prompt draws one synthetic prompt from the workload stream: a length from
// the clamped Gaussian described by cfg, then that many ids in [0, cfg.VocabSize).
func (p *PartitionedRNG) Prompt(cfg WorkloadConfig) []int {
	r := p.Stream(SubsystemWorkload)
	n := clampedGauss(r, cfg.PromptTokens, cfg.PromptTokensStdev, cfg.PromptTokensMin, cfg.PromptTokensMax)
	prompt := make([]int, n)
	for i := range prompt {
		prompt[i] = r.Intn(cfg.VocabSize)
	}
	return prompt
}

// DecodeToken draws one token id in [0, vocab) from the decode stream.
func (p *PartitionedRNG) DecodeToken(vocab int) int {
	return p.Stream(SubsystemDecode).Intn(vocab)
}

// clampedGauss samples round(N(mean, std)) clamped to [lo, hi].
func clampedGauss(r *rand.Rand, mean, std, lo, hi int) int {
	if lo == hi {
		return lo
	}
	v := r.NormFloat64()*float64(std) + float64(mean)
	return int(math.Round(math.Max(float64(lo), math.Min(float64(hi), v))))
}
