// Defines the Request struct: one in-flight generation job, its stopping policy,
// lifecycle status and the logical -> physical block table backing its tokens.

package sim

import (
	"errors"
	"fmt"
)

// RequestStatus represents the lifecycle state of a request.
type RequestStatus string

const (
	StatusWaitingPrefill RequestStatus = "waiting_prefill"
	StatusWaitingDecode  RequestStatus = "waiting_decode"
	StatusRunning        RequestStatus = "running"
	StatusFinished       RequestStatus = "finished"
)

// IsWaiting reports whether s is one of the pre-running admission states.
func (s RequestStatus) IsWaiting() bool {
	return s == StatusWaitingPrefill || s == StatusWaitingDecode
}

// ErrInvalidTransition is returned when a lifecycle method is called from the wrong status.
var ErrInvalidTransition = errors.New("invalid request status transition")

// Request models a single request's lifecycle.
// It holds:
// - the prompt (fixed at creation) and the generated tokens (append-only)
// - the stopping policy (MaxTokens budget, EndTokens set)
// - the block table: index = logical block, value = physical block id
//
// The block table entries are plain ids registered with a BlockPool; every
// entry is handed back to that pool by Finish. A Request is owned by one
// scheduling loop and is not safe for concurrent use.
type Request struct {
	ID string // Unique identifier for the request

	MaxTokens int              // Generation budget
	EndTokens map[int]struct{} // Token ids that end generation when emitted last

	prompt []int
	output []int
	status RequestStatus

	blockTable []int64
	blockSize  int64 // tokens per block, fixed on first Admit

	ArrivalStep   int // Engine step at which the request was submitted
	ScheduledStep int // Engine step at which the request first ran
	FinishedStep  int // Engine step at which the request finished
}

// NewRequest creates a waiting_prefill request with no output and an empty block table.
// The prompt is copied.
func NewRequest(id string, prompt []int, maxTokens int, endTokens []int) *Request {
	ends := make(map[int]struct{}, len(endTokens))
	for _, tok := range endTokens {
		ends[tok] = struct{}{}
	}
	return &Request{
		ID:        id,
		MaxTokens: maxTokens,
		EndTokens: ends,
		prompt:    append([]int(nil), prompt...),
		output:    []int{},
		status:    StatusWaitingPrefill,
	}
}

// Status returns the current lifecycle state.
func (req *Request) Status() RequestStatus { return req.status }

// PromptTokens returns a copy of the prompt.
func (req *Request) PromptTokens() []int { return append([]int(nil), req.prompt...) }

// OutputTokens returns a copy of the generated tokens.
func (req *Request) OutputTokens() []int { return append([]int(nil), req.output...) }

// NumPromptTokens returns the prompt length.
func (req *Request) NumPromptTokens() int { return len(req.prompt) }

// NumOutputTokens returns how many tokens have been generated.
func (req *Request) NumOutputTokens() int { return len(req.output) }

// NumTokens returns prompt + generated length.
func (req *Request) NumTokens() int { return len(req.prompt) + len(req.output) }

// BlockTable returns a copy of the logical -> physical block mapping.
func (req *Request) BlockTable() []int64 { return append([]int64(nil), req.blockTable...) }

// NumBlocks returns how many physical blocks the request currently holds.
func (req *Request) NumBlocks() int { return len(req.blockTable) }

// ShouldEnd reports whether a stopping condition holds: the generation budget
// is used up, or the last generated token is an end token. Pure; the caller
// acts on it by calling Finish.
func (req *Request) ShouldEnd() bool {
	if len(req.output) >= req.MaxTokens {
		return true
	}
	if n := len(req.output); n > 0 {
		if _, ok := req.EndTokens[req.output[n-1]]; ok {
			return true
		}
	}
	return false
}

// blocksFor returns how many logical blocks are needed to hold n tokens.
func blocksFor(n int, blockSize int64) int {
	return int((int64(n) + blockSize - 1) / blockSize)
}

// Admit moves a waiting request to running.
// Any tokens not yet covered by the block table are mapped first. The mapping
// is all-or-nothing: when the pool runs out, the blocks taken by this call are
// returned, the request stays waiting and Admit reports false.
func (req *Request) Admit(pool BlockPool) (bool, error) {
	if !req.status.IsWaiting() {
		return false, fmt.Errorf("admit %s from %s: %w", req.ID, req.status, ErrInvalidTransition)
	}
	if req.blockSize == 0 {
		req.blockSize = pool.BlockSize()
	}

	need := blocksFor(req.NumTokens(), req.blockSize)
	taken := make([]int64, 0, max(need-len(req.blockTable), 0))
	for len(req.blockTable)+len(taken) < need {
		id, ok := pool.Allocate()
		if !ok {
			var errs []error
			for _, blockID := range taken {
				if err := pool.Free(blockID); err != nil {
					errs = append(errs, err)
				}
			}
			if len(errs) > 0 {
				return false, fmt.Errorf("admit %s: rollback: %w", req.ID, errors.Join(errs...))
			}
			return false, nil
		}
		taken = append(taken, id)
	}

	req.blockTable = append(req.blockTable, taken...)
	req.status = StatusRunning
	return true, nil
}

// AppendToken records a generated token. If the new total crosses a block
// boundary not yet covered by the block table, one block is allocated first.
// Returns false, with the token not recorded, when the pool is exhausted.
// Only a running request accepts tokens.
func (req *Request) AppendToken(token int, pool BlockPool) (bool, error) {
	if req.status != StatusRunning {
		return false, fmt.Errorf("append to %s in %s: %w", req.ID, req.status, ErrInvalidTransition)
	}
	if blocksFor(req.NumTokens()+1, req.blockSize) > len(req.blockTable) {
		id, ok := pool.Allocate()
		if !ok {
			return false, nil
		}
		req.blockTable = append(req.blockTable, id)
	}
	req.output = append(req.output, token)
	return true, nil
}

// Stall parks a running request in waiting_decode after a token could not be
// backed by a block. Its block table is kept; Admit resumes it.
func (req *Request) Stall() error {
	if req.status != StatusRunning {
		return fmt.Errorf("stall %s from %s: %w", req.ID, req.status, ErrInvalidTransition)
	}
	req.status = StatusWaitingDecode
	return nil
}

// Finish moves a running request to finished and frees every block in its
// table. Each free is checked by the pool on its own; failures are joined
// and returned, but the table is cleared and the request is finished either way.
func (req *Request) Finish(pool BlockPool) error {
	if req.status != StatusRunning {
		return fmt.Errorf("finish %s from %s: %w", req.ID, req.status, ErrInvalidTransition)
	}
	var errs []error
	for _, blockID := range req.blockTable {
		if err := pool.Free(blockID); err != nil {
			errs = append(errs, err)
		}
	}
	req.blockTable = nil
	req.status = StatusFinished
	if len(errs) > 0 {
		return fmt.Errorf("finish %s: %w", req.ID, errors.Join(errs...))
	}
	return nil
}

// SlotMapping returns the physical slot of every token position in [start, end):
// blockTable[pos/blockSize]*blockSize + pos%blockSize. Positions not backed by
// a block map to -1.
func (req *Request) SlotMapping(start, end int) []int64 {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil
	}
	slots := make([]int64, 0, end-start)
	for pos := int64(start); pos < int64(end); pos++ {
		if req.blockSize == 0 || pos/req.blockSize >= int64(len(req.blockTable)) {
			slots = append(slots, -1)
			continue
		}
		slots = append(slots, req.blockTable[pos/req.blockSize]*req.blockSize+pos%req.blockSize)
	}
	return slots
}

// This method returns a human-readable string representation of a Request.
func (req Request) String() string {
	return fmt.Sprintf("Request: (ID: %s, Status: %s, Tokens: %d+%d, Blocks: %v)",
		req.ID, req.status, len(req.prompt), len(req.output), req.blockTable)
}
