package kv

import "github.com/inference-sim/nanobatch/sim"

func init() {
	sim.NewBlockPoolFunc = func(totalBlocks, blockSizeTokens int64) sim.BlockPool {
		return NewBlockAllocator(totalBlocks, blockSizeTokens)
	}
}
