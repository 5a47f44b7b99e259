package kv

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// freeStack returns the free ids from top to bottom.
func freeStack(a *BlockAllocator) []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]int64, 0, a.freeCnt)
	for id := a.head; id != noBlock; id = a.next[id] {
		ids = append(ids, id)
	}
	return ids
}

// assertPartition checks that every id is on exactly one side: free stack or allocated.
func assertPartition(t *testing.T, a *BlockAllocator) {
	t.Helper()
	onStack := make(map[int64]bool)
	for _, id := range freeStack(a) {
		if onStack[id] {
			t.Fatalf("block %d appears twice on the free stack", id)
		}
		onStack[id] = true
	}
	for id := int64(0); id < a.TotalBlocks(); id++ {
		if onStack[id] == a.IsAllocated(id) {
			t.Fatalf("block %d: onStack=%v allocated=%v", id, onStack[id], a.IsAllocated(id))
		}
	}
	if got := int64(len(onStack)); got != a.FreeBlocks() {
		t.Fatalf("free stack has %d ids, FreeBlocks() = %d", got, a.FreeBlocks())
	}
}

func TestBlockAllocator_AllocatesAscendingThenExhausts(t *testing.T) {
	// GIVEN a fresh allocator with 4 blocks of 16 tokens
	a := NewBlockAllocator(4, 16)

	// WHEN four blocks are allocated
	var got []int64
	for i := 0; i < 4; i++ {
		id, ok := a.Allocate()
		require.True(t, ok)
		got = append(got, id)
	}

	// THEN ids come out 0, 1, 2, 3
	if diff := cmp.Diff([]int64{0, 1, 2, 3}, got); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}

	// AND a fifth allocation reports exhaustion without error or panic
	_, ok := a.Allocate()
	assert.False(t, ok)
	assert.True(t, a.IsExhausted())
	assertPartition(t, a)
}

func TestBlockAllocator_Accessors(t *testing.T) {
	a := NewBlockAllocator(4, 16)
	assert.Equal(t, int64(16), a.BlockSize())
	assert.Equal(t, int64(4), a.TotalBlocks())
	assert.Equal(t, int64(4), a.FreeBlocks())
	assert.Equal(t, int64(0), a.UsedBlocks())

	_, _ = a.Allocate()
	assert.Equal(t, int64(3), a.FreeBlocks())
	assert.Equal(t, int64(1), a.UsedBlocks())
	assert.False(t, a.IsExhausted())
}

func TestBlockAllocator_ZeroBlocks_IsExhausted(t *testing.T) {
	a := NewBlockAllocator(0, 16)
	_, ok := a.Allocate()
	assert.False(t, ok)
	assert.True(t, a.IsExhausted())
}

func TestNewBlockAllocator_InvalidArgs_Panics(t *testing.T) {
	assert.Panics(t, func() { NewBlockAllocator(-1, 16) })
	assert.Panics(t, func() { NewBlockAllocator(4, 0) })
}

func TestBlockAllocator_Free_LIFOReuse(t *testing.T) {
	// GIVEN blocks 0 and 1 allocated
	a := NewBlockAllocator(4, 16)
	_, _ = a.Allocate()
	k, ok := a.Allocate()
	require.True(t, ok)
	require.Equal(t, int64(1), k)

	// WHEN k is freed
	require.NoError(t, a.Free(k))

	// THEN the next allocation returns k again, ahead of the never-used ids
	id, ok := a.Allocate()
	require.True(t, ok)
	assert.Equal(t, k, id)

	// AND the most recently freed of several comes out first
	require.NoError(t, a.Free(0))
	require.NoError(t, a.Free(1))
	first, _ := a.Allocate()
	second, _ := a.Allocate()
	assert.Equal(t, []int64{1, 0}, []int64{first, second})
}

func TestBlockAllocator_Free_InvalidIDs(t *testing.T) {
	tests := []struct {
		name string
		id   int64
	}{
		{"never allocated", 2},
		{"negative", -1},
		{"out of range", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN an allocator with block 0 allocated
			a := NewBlockAllocator(4, 16)
			_, _ = a.Allocate()
			before := freeStack(a)

			// WHEN an id that is not allocated is freed
			err := a.Free(tt.id)

			// THEN the call fails with InvalidFree and nothing changes
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFree))
			var ife *InvalidFreeError
			require.True(t, errors.As(err, &ife))
			assert.Equal(t, tt.id, ife.BlockID)
			if diff := cmp.Diff(before, freeStack(a)); diff != "" {
				t.Errorf("free stack changed (-before +after):\n%s", diff)
			}
			assert.True(t, a.IsAllocated(0))
			assertPartition(t, a)
		})
	}
}

func TestBlockAllocator_DoubleFree_Rejected(t *testing.T) {
	a := NewBlockAllocator(4, 16)
	id, _ := a.Allocate()
	require.NoError(t, a.Free(id))
	freeBefore := a.FreeBlocks()

	err := a.Free(id)

	assert.True(t, errors.Is(err, ErrInvalidFree))
	assert.Equal(t, freeBefore, a.FreeBlocks())
	assertPartition(t, a)
}

func TestBlockAllocator_RandomOps_KeepPartition(t *testing.T) {
	// GIVEN any sequence of well-formed allocate/free calls
	a := NewBlockAllocator(32, 8)
	rng := rand.New(rand.NewSource(1))
	held := make(map[int64]bool)
	var heldList []int64

	for i := 0; i < 5000; i++ {
		if rng.Intn(2) == 0 || len(heldList) == 0 {
			id, ok := a.Allocate()
			if !ok {
				assert.Equal(t, 32, len(heldList))
				continue
			}
			// THEN no outstanding id is ever handed out twice
			if held[id] {
				t.Fatalf("block %d handed out twice", id)
			}
			held[id] = true
			heldList = append(heldList, id)
		} else {
			j := rng.Intn(len(heldList))
			id := heldList[j]
			heldList[j] = heldList[len(heldList)-1]
			heldList = heldList[:len(heldList)-1]
			delete(held, id)
			require.NoError(t, a.Free(id))
		}
		if i%250 == 0 {
			assertPartition(t, a)
		}
	}
	assertPartition(t, a)
	assert.Equal(t, int64(len(heldList)), a.UsedBlocks())
}

func TestBlockAllocator_ConcurrentCallers_NeverShareABlock(t *testing.T) {
	// GIVEN an allocator shared by several goroutines
	const workers = 8
	a := NewBlockAllocator(64, 16)
	owner := make([]int32, 64) // written only while the id is held
	for i := range owner {
		owner[i] = -1
	}

	// WHEN every worker repeatedly takes and returns blocks
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := int32(w)
		g.Go(func() error {
			var mine []int64
			for i := 0; i < 2000; i++ {
				if id, ok := a.Allocate(); ok {
					if owner[id] != -1 {
						return errors.New("block handed to two holders")
					}
					owner[id] = w
					mine = append(mine, id)
				}
				if len(mine) > 3 {
					id := mine[0]
					mine = mine[1:]
					owner[id] = -1
					if err := a.Free(id); err != nil {
						return err
					}
				}
			}
			for _, id := range mine {
				owner[id] = -1
				if err := a.Free(id); err != nil {
					return err
				}
			}
			return nil
		})
	}

	// THEN no block was shared and everything is free again
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(64), a.FreeBlocks())
	assertPartition(t, a)
}
