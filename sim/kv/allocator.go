// sim/kv/allocator.go
package kv

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidFree is returned when a block that is not currently allocated is freed.
// Covers double frees, frees of never-allocated ids and out-of-range ids.
var ErrInvalidFree = errors.New("block not allocated or already freed")

// InvalidFreeError carries the offending block id. It matches ErrInvalidFree via errors.Is.
type InvalidFreeError struct {
	BlockID int64
}

func (e *InvalidFreeError) Error() string {
	return fmt.Sprintf("free of block %d: %v", e.BlockID, ErrInvalidFree)
}

func (e *InvalidFreeError) Unwrap() error {
	return ErrInvalidFree
}

// blockState tags every physical block id as either free or allocated.
type blockState uint8

const (
	blockFree blockState = iota
	blockAllocated
)

// noBlock terminates the intrusive free stack.
const noBlock int64 = -1

// BlockAllocator owns the physical block id space [0, TotalBlocks).
// Every id is either on the free stack or allocated, never both.
//
// The free stack is intrusive: next[id] links a free id to the one below it,
// so allocation and release are O(1) with no per-call allocation.
// Freed ids are pushed on top and handed out first (LIFO reuse).
//
// Allocate and Free are critical sections; the allocator may be shared
// between goroutines, but a single scheduling loop is the expected caller.
type BlockAllocator struct {
	mu sync.Mutex

	totalBlocks     int64
	blockSizeTokens int64

	state   []blockState // id -> free / allocated tag
	next    []int64      // id -> next free id below it on the stack
	head    int64        // top of the free stack, noBlock when exhausted
	freeCnt int64        // length of the free stack (tracked incrementally)
}

// NewBlockAllocator places every block on the free stack so that the first
// allocations return 0, 1, 2, ... in ascending order.
func NewBlockAllocator(totalBlocks, blockSizeTokens int64) *BlockAllocator {
	if totalBlocks < 0 {
		panic(fmt.Sprintf("NewBlockAllocator: totalBlocks must be >= 0, got %d", totalBlocks))
	}
	if blockSizeTokens <= 0 {
		panic(fmt.Sprintf("NewBlockAllocator: blockSizeTokens must be > 0, got %d", blockSizeTokens))
	}
	a := &BlockAllocator{
		totalBlocks:     totalBlocks,
		blockSizeTokens: blockSizeTokens,
		state:           make([]blockState, totalBlocks),
		next:            make([]int64, totalBlocks),
		head:            noBlock,
	}
	// push in reverse so id 0 ends up on top
	for id := totalBlocks - 1; id >= 0; id-- {
		a.push(id)
	}
	return a
}

func (a *BlockAllocator) push(id int64) {
	a.next[id] = a.head
	a.head = id
	a.state[id] = blockFree
	a.freeCnt++
}

// Allocate pops the top of the free stack and marks it allocated.
// ok is false when no block is free. That is backpressure, not an error:
// the caller should stall or give up the request, never retry in a loop.
func (a *BlockAllocator) Allocate() (id int64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.head == noBlock {
		return noBlock, false
	}
	id = a.head
	a.head = a.next[id]
	a.next[id] = noBlock
	a.state[id] = blockAllocated
	a.freeCnt--
	return id, true
}

// Free returns an allocated block to the top of the free stack.
// Freeing an id that is not allocated fails with *InvalidFreeError and
// leaves the allocator untouched.
func (a *BlockAllocator) Free(id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id < 0 || id >= a.totalBlocks || a.state[id] != blockAllocated {
		return &InvalidFreeError{BlockID: id}
	}
	a.push(id)
	return nil
}

// BlockSize returns the number of token slots per block.
func (a *BlockAllocator) BlockSize() int64 {
	return a.blockSizeTokens
}

// TotalBlocks returns the size of the id space.
func (a *BlockAllocator) TotalBlocks() int64 {
	return a.totalBlocks
}

// FreeBlocks returns how many blocks can still be allocated.
func (a *BlockAllocator) FreeBlocks() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCnt
}

// UsedBlocks returns how many blocks are currently allocated.
func (a *BlockAllocator) UsedBlocks() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalBlocks - a.freeCnt
}

// IsExhausted reports whether the next Allocate would fail.
func (a *BlockAllocator) IsExhausted() bool {
	return a.FreeBlocks() == 0
}

// IsAllocated reports whether id is currently handed out.
func (a *BlockAllocator) IsAllocated(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return id >= 0 && id < a.totalBlocks && a.state[id] == blockAllocated
}
