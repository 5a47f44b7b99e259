package trace

// TraceLevel controls the verbosity of block tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelBlocks captures admissions, block growth, stalls and releases.
	TraceLevelBlocks TraceLevel = "blocks"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelBlocks: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// BlockTrace collects block decision records during an engine run.
// A nil *BlockTrace is valid and records nothing.
type BlockTrace struct {
	Config     TraceConfig
	Admissions []AdmissionRecord
	Growths    []GrowthRecord
	Stalls     []StallRecord
	Releases   []ReleaseRecord
}

// NewBlockTrace creates a BlockTrace ready for recording.
func NewBlockTrace(config TraceConfig) *BlockTrace {
	return &BlockTrace{
		Config:     config,
		Admissions: make([]AdmissionRecord, 0),
		Growths:    make([]GrowthRecord, 0),
		Stalls:     make([]StallRecord, 0),
		Releases:   make([]ReleaseRecord, 0),
	}
}

// Enabled reports whether records are kept.
func (bt *BlockTrace) Enabled() bool {
	return bt != nil && bt.Config.Level == TraceLevelBlocks
}

// RecordAdmission appends an admission record.
func (bt *BlockTrace) RecordAdmission(record AdmissionRecord) {
	if bt.Enabled() {
		bt.Admissions = append(bt.Admissions, record)
	}
}

// RecordGrowth appends a block growth record.
func (bt *BlockTrace) RecordGrowth(record GrowthRecord) {
	if bt.Enabled() {
		bt.Growths = append(bt.Growths, record)
	}
}

// RecordStall appends a stall record.
func (bt *BlockTrace) RecordStall(record StallRecord) {
	if bt.Enabled() {
		bt.Stalls = append(bt.Stalls, record)
	}
}

// RecordRelease appends a release record.
func (bt *BlockTrace) RecordRelease(record ReleaseRecord) {
	if bt.Enabled() {
		bt.Releases = append(bt.Releases, record)
	}
}
