// Package sim provides the block-mapping core of a batched generation engine.
//
// # Reading Guide
//
// Start with these files:
//   - request.go: Request lifecycle (waiting_prefill/waiting_decode → running → finished),
//     stopping conditions and the logical → physical block table
//   - kv_store.go: BlockPool, the allocator interface requests are mapped against
//   - engine.go: Step/Update loop that admits requests, grows block tables and
//     releases blocks when requests finish
//
// # Architecture
//
// The sim package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - sim/kv/: BlockAllocator, the fixed-size physical block pool
//   - sim/trace/: block decision trace recording
//
// Sub-packages register their implementations via init() functions that set
// package-level factory variables (NewBlockPoolFunc).
//
// # Resource model
//
// A physical block belongs to at most one Request at a time. It is taken by
// Admit or AppendToken and returned by Finish. Running out of blocks is
// reported as a false return (backpressure), never as an error or panic;
// freeing a block that is not allocated is an error that leaves the pool intact.
package sim
