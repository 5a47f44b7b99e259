// Engine drives requests through admission, decode growth and release against a
// shared BlockPool. It is a harness around Request and BlockPool: admission is
// first-come-first-served, gated only by block availability and MaxRunningReqs.

package sim

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/v2/lists/arraylist"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/inference-sim/nanobatch/sim/trace"
)

var (
	// ErrDuplicateRequest is returned when a request id is already live in the engine.
	ErrDuplicateRequest = errors.New("duplicate request id")
	// ErrUnknownRequest is returned by Update for ids the engine does not hold.
	ErrUnknownRequest = errors.New("unknown request id")
	// ErrExceedsPool is returned by Submit for prompts that need more blocks
	// than the pool holds in total; such a request could never be admitted.
	ErrExceedsPool = errors.New("prompt needs more blocks than the pool holds")
)

// StepOutput describes one batch step: which requests run, where their
// blocks live and which physical slots the step's tokens are written to.
type StepOutput struct {
	Step                int
	ScheduledRequests   []string           // in scheduling order
	BlockTables         map[string][]int64 // request ID -> logical -> physical block ids
	SlotMappings        []int64            // physical slot per scheduled token, in ScheduledRequests order
	NumTokensPerRequest map[string]int     // request ID -> tokens computed this step
}

// Engine owns the live requests and performs every Allocate/Free on the pool.
// Not safe for concurrent use: one scheduling loop calls Step and Update.
type Engine struct {
	pool  BlockPool
	cfg   BatchConfig
	trace *trace.BlockTrace

	requests *orderedmap.OrderedMap[string, *Request] // live requests in arrival order
	waiting  *arraylist.List[*Request]                // waiting_prefill, FCFS
	pending  map[string]int                           // token held by a waiting_decode request

	finished []*Request
	step     int
	metrics  *Metrics
}

// NewEngine creates an Engine over pool. tr may be nil.
func NewEngine(pool BlockPool, cfg BatchConfig, tr *trace.BlockTrace) *Engine {
	if pool == nil {
		panic("NewEngine: pool must not be nil")
	}
	return &Engine{
		pool:     pool,
		cfg:      cfg,
		trace:    tr,
		requests: orderedmap.New[string, *Request](),
		waiting:  arraylist.New[*Request](),
		pending:  make(map[string]int),
		metrics:  NewMetrics(),
	}
}

// AddRequest creates and submits a request. An empty id gets a generated UUID.
func (e *Engine) AddRequest(id string, prompt []int, maxTokens int, endTokens []int) (*Request, error) {
	if id == "" {
		id = uuid.NewString()
	}
	req := NewRequest(id, prompt, maxTokens, endTokens)
	if err := e.Submit(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Submit queues a waiting_prefill request.
func (e *Engine) Submit(req *Request) error {
	if req.Status() != StatusWaitingPrefill {
		return fmt.Errorf("submit %s in %s: %w", req.ID, req.Status(), ErrInvalidTransition)
	}
	if req.NumPromptTokens() == 0 {
		return fmt.Errorf("submit %s: empty prompt", req.ID)
	}
	if req.MaxTokens < 1 {
		return fmt.Errorf("submit %s: MaxTokens must be >= 1, got %d", req.ID, req.MaxTokens)
	}
	if need := blocksFor(req.NumPromptTokens(), e.pool.BlockSize()); int64(need) > e.pool.TotalBlocks() {
		return fmt.Errorf("submit %s: %d blocks for %d prompt tokens, pool has %d: %w",
			req.ID, need, req.NumPromptTokens(), e.pool.TotalBlocks(), ErrExceedsPool)
	}
	if _, exists := e.requests.Get(req.ID); exists {
		return fmt.Errorf("submit %s: %w", req.ID, ErrDuplicateRequest)
	}
	req.ArrivalStep = e.step
	e.requests.Set(req.ID, req)
	e.waiting.Add(req)
	return nil
}

// Step plans the next batch step:
//  1. stalled (waiting_decode) requests retry their held token
//  2. every running request decodes its last token
//  3. waiting_prefill requests are admitted in arrival order until the pool
//     or MaxRunningReqs says stop
func (e *Engine) Step() *StepOutput {
	e.step++
	out := &StepOutput{
		Step:                e.step,
		BlockTables:         make(map[string][]int64),
		NumTokensPerRequest: make(map[string]int),
	}

	for _, req := range e.liveWithStatus(StatusWaitingDecode) {
		e.resume(req)
	}

	for _, req := range e.liveWithStatus(StatusRunning) {
		e.schedule(out, req, req.NumTokens()-1, req.NumTokens())
	}

	holding := len(e.liveWithStatus(StatusRunning)) + len(e.liveWithStatus(StatusWaitingDecode))
	for !e.waiting.Empty() {
		if e.cfg.MaxRunningReqs > 0 && holding >= e.cfg.MaxRunningReqs {
			break
		}
		req, _ := e.waiting.Get(0)
		ok, err := req.Admit(e.pool)
		if err != nil {
			// rollback failed: the pool rejected a block it just handed out
			logrus.WithFields(logrus.Fields{"request": req.ID, "step": e.step}).Errorf("admission aborted: %v", err)
			e.metrics.InvalidFrees++
			e.waiting.Remove(0)
			e.requests.Delete(req.ID)
			continue
		}
		if !ok {
			logrus.WithFields(logrus.Fields{"request": req.ID, "step": e.step, "free_blocks": e.pool.FreeBlocks()}).
				Debug("not enough free blocks to prefill; admission stalled")
			e.metrics.AdmissionStalls++
			e.trace.RecordAdmission(trace.AdmissionRecord{RequestID: req.ID, Step: e.step, Reason: "no-free-blocks"})
			break
		}
		e.waiting.Remove(0)
		holding++
		req.ScheduledStep = e.step
		e.trace.RecordAdmission(trace.AdmissionRecord{
			RequestID: req.ID, Step: e.step, Admitted: true, Blocks: req.NumBlocks(), Reason: "prefill",
		})
		e.schedule(out, req, 0, req.NumTokens())
	}

	e.metrics.Steps++
	e.metrics.observeUsage(e.pool.UsedBlocks())
	return out
}

// resume retries the held token of a waiting_decode request.
func (e *Engine) resume(req *Request) {
	// the block table already covers the prompt and output, so Admit takes nothing here
	ok, err := req.Admit(e.pool)
	if err != nil {
		logrus.WithFields(logrus.Fields{"request": req.ID, "step": e.step}).Errorf("resume failed: %v", err)
		return
	}
	if !ok {
		return
	}
	tok := e.pending[req.ID]
	before := req.NumBlocks()
	appended, err := req.AppendToken(tok, e.pool)
	if err != nil {
		logrus.WithFields(logrus.Fields{"request": req.ID, "step": e.step}).Errorf("resume failed: %v", err)
		return
	}
	if !appended {
		// still no block for the held token: another stall, not an admission refusal
		_ = req.Stall()
		e.metrics.DecodeStalls++
		e.trace.RecordStall(trace.StallRecord{RequestID: req.ID, Step: e.step, NumTokens: req.NumTokens()})
		return
	}
	delete(e.pending, req.ID)
	e.recordGrowth(req, before)
	e.trace.RecordAdmission(trace.AdmissionRecord{
		RequestID: req.ID, Step: e.step, Admitted: true, Blocks: req.NumBlocks(), Reason: "resume",
	})
	if req.ShouldEnd() {
		_ = e.finish(req)
	}
}

// Update appends one generated token per request id. A token that cannot be
// backed by a block stalls its request (held until a later Step). Requests
// whose stopping condition holds are finished and their blocks freed.
// Errors for individual requests are joined; other requests are still updated.
func (e *Engine) Update(tokens map[string]int) error {
	var errs []error
	for id := range tokens {
		if _, ok := e.requests.Get(id); !ok {
			errs = append(errs, fmt.Errorf("update %s: %w", id, ErrUnknownRequest))
		}
	}

	for pair := e.requests.Oldest(); pair != nil; {
		req := pair.Value
		pair = pair.Next() // finish deletes req from the map
		tok, ok := tokens[req.ID]
		if !ok {
			continue
		}
		if req.Status() != StatusRunning {
			errs = append(errs, fmt.Errorf("update %s in %s: %w", req.ID, req.Status(), ErrInvalidTransition))
			continue
		}
		before := req.NumBlocks()
		appended, err := req.AppendToken(tok, e.pool)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !appended {
			_ = req.Stall()
			e.pending[req.ID] = tok
			e.metrics.DecodeStalls++
			e.trace.RecordStall(trace.StallRecord{RequestID: req.ID, Step: e.step, NumTokens: req.NumTokens()})
			logrus.WithFields(logrus.Fields{"request": req.ID, "step": e.step}).Debug("no free block for decode token; request stalled")
			continue
		}
		e.recordGrowth(req, before)
		e.metrics.notePeak(e.pool.UsedBlocks())
		if req.ShouldEnd() {
			if err := e.finish(req); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// finish releases req's blocks and retires it. Invalid frees are logged and
// returned but only affect this request.
func (e *Engine) finish(req *Request) error {
	blocks := req.BlockTable()
	err := req.Finish(e.pool)
	req.FinishedStep = e.step
	e.requests.Delete(req.ID)
	delete(e.pending, req.ID)
	e.finished = append(e.finished, req)

	e.metrics.CompletedRequests++
	e.metrics.TotalInputTokens += req.NumPromptTokens()
	e.metrics.TotalOutputTokens += req.NumOutputTokens()

	rec := trace.ReleaseRecord{RequestID: req.ID, Step: e.step, BlockIDs: blocks}
	if err != nil {
		rec.Err = err.Error()
		e.metrics.InvalidFrees++
		logrus.WithFields(logrus.Fields{"request": req.ID, "blocks": blocks}).Errorf("release failed: %v", err)
	}
	e.trace.RecordRelease(rec)
	return err
}

func (e *Engine) recordGrowth(req *Request, before int) {
	if req.NumBlocks() <= before {
		return
	}
	table := req.BlockTable()
	for i := before; i < len(table); i++ {
		e.trace.RecordGrowth(trace.GrowthRecord{RequestID: req.ID, Step: e.step, LogicalIndex: i, BlockID: table[i]})
	}
}

func (e *Engine) schedule(out *StepOutput, req *Request, start, end int) {
	out.ScheduledRequests = append(out.ScheduledRequests, req.ID)
	out.BlockTables[req.ID] = req.BlockTable()
	out.SlotMappings = append(out.SlotMappings, req.SlotMapping(start, end)...)
	out.NumTokensPerRequest[req.ID] = end - start
}

// liveWithStatus returns live requests in arrival order whose status is s.
func (e *Engine) liveWithStatus(s RequestStatus) []*Request {
	var reqs []*Request
	for pair := e.requests.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status() == s {
			reqs = append(reqs, pair.Value)
		}
	}
	return reqs
}

// Request returns the live request with the given id.
func (e *Engine) Request(id string) (*Request, bool) {
	return e.requests.Get(id)
}

// NumLive returns how many requests have not finished.
func (e *Engine) NumLive() int { return e.requests.Len() }

// NumWaiting returns how many requests wait for prefill admission.
func (e *Engine) NumWaiting() int { return e.waiting.Size() }

// Done reports whether every submitted request has finished.
func (e *Engine) Done() bool { return e.requests.Len() == 0 }

// Finished returns the finished requests in completion order.
func (e *Engine) Finished() []*Request { return e.finished }

// CurrentStep returns the number of steps planned so far.
func (e *Engine) CurrentStep() int { return e.step }

// Metrics returns the engine's running statistics.
func (e *Engine) Metrics() *Metrics { return e.metrics }
