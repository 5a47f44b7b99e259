package sim

import (
	"fmt"
)

// countingPool is a LIFO BlockPool for tests that records every call.
type countingPool struct {
	blockSize int64
	total     int64
	free      []int64 // top of stack = last element
	allocated map[int64]bool

	allocCalls int
	freeCalls  int
	freeFail   map[int64]bool // ids whose Free must fail even when allocated
}

func newCountingPool(total, blockSize int64) *countingPool {
	p := &countingPool{
		blockSize: blockSize,
		total:     total,
		allocated: make(map[int64]bool),
		freeFail:  make(map[int64]bool),
	}
	for id := total - 1; id >= 0; id-- {
		p.free = append(p.free, id)
	}
	return p
}

func (p *countingPool) Allocate() (int64, bool) {
	p.allocCalls++
	if len(p.free) == 0 {
		return -1, false
	}
	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.allocated[id] = true
	return id, true
}

func (p *countingPool) Free(id int64) error {
	p.freeCalls++
	if !p.allocated[id] || p.freeFail[id] {
		return fmt.Errorf("free of block %d: not allocated", id)
	}
	delete(p.allocated, id)
	p.free = append(p.free, id)
	return nil
}

func (p *countingPool) BlockSize() int64   { return p.blockSize }
func (p *countingPool) TotalBlocks() int64 { return p.total }
func (p *countingPool) FreeBlocks() int64  { return int64(len(p.free)) }
func (p *countingPool) UsedBlocks() int64  { return int64(len(p.allocated)) }

// tokens returns n distinct token ids starting at base.
func tokens(base, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = base + i
	}
	return out
}
