package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/inference-sim/nanobatch/sim/trace"
)

// printReport writes the run summary as a two-column table.
func printReport(w io.Writer, res *runResult, elapsed time.Duration) {
	m := res.Engine.Metrics()
	rows := [][]string{
		{"steps", strconv.Itoa(m.Steps)},
		{"completed_requests", strconv.Itoa(m.CompletedRequests)},
		{"unfinished_requests", strconv.Itoa(res.Engine.NumLive())},
		{"total_input_tokens", strconv.Itoa(m.TotalInputTokens)},
		{"total_output_tokens", strconv.Itoa(m.TotalOutputTokens)},
		{"admission_stalls", strconv.Itoa(m.AdmissionStalls)},
		{"decode_stalls", strconv.Itoa(m.DecodeStalls)},
		{"invalid_frees", strconv.Itoa(m.InvalidFrees)},
		{"total_blocks", strconv.FormatInt(res.Pool.TotalBlocks(), 10)},
		{"peak_used_blocks", strconv.FormatInt(m.PeakUsedBlocks, 10)},
		{"avg_used_blocks", fmt.Sprintf("%.2f", m.AvgUsedBlocks())},
		{"free_blocks_at_end", strconv.FormatInt(res.Pool.FreeBlocks(), 10)},
	}
	if res.Trace != nil {
		s := trace.Summarize(res.Trace)
		rows = append(rows,
			[]string{"trace_admissions", strconv.Itoa(s.AdmittedCount)},
			[]string{"trace_rejections", strconv.Itoa(s.RejectedCount)},
			[]string{"trace_blocks_grown", strconv.Itoa(s.BlocksGrown)},
			[]string{"trace_blocks_released", strconv.Itoa(s.BlocksReleased)},
			[]string{"trace_unique_blocks", strconv.Itoa(s.UniqueBlocks)},
		)
	}
	rows = append(rows, []string{"wall_time", elapsed.Round(time.Millisecond).String()})

	fmt.Fprintln(w, "=== Engine Metrics ===")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}
