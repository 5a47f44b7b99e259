package sim

import "fmt"

// BlockPool abstracts the physical block allocator behind the request block tables.
// kv.BlockAllocator implements this.
type BlockPool interface {
	Allocate() (int64, bool) // false = no free block (backpressure)
	Free(blockID int64) error
	BlockSize() int64
	TotalBlocks() int64
	FreeBlocks() int64
	UsedBlocks() int64
}

// NewBlockPoolFunc is set by sim/kv's init(). Import sim/kv (blank import is enough)
// before calling NewBlockPool.
var NewBlockPoolFunc func(totalBlocks, blockSizeTokens int64) BlockPool

// NewBlockPool builds the registered BlockPool implementation from config.
// Panics if sim/kv was not imported or the config is invalid.
func NewBlockPool(cfg KVCacheConfig) BlockPool {
	if NewBlockPoolFunc == nil {
		panic("NewBlockPool: no implementation registered; import github.com/inference-sim/nanobatch/sim/kv")
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("NewBlockPool: %v", err))
	}
	return NewBlockPoolFunc(cfg.TotalKVBlocks, cfg.BlockSizeTokens)
}
