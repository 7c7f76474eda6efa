package main

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/copyleftdev/stratopt/internal/jobfile"
	"github.com/copyleftdev/stratopt/internal/optimization"
)

// writeSummary prints the run overview, the top trials and one line per
// failure kind.
func writeSummary(w io.Writer, job *jobfile.Job, result *optimization.OptimizationResult, top int) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Strategy:   %s\n", job.Strategy.Name)
	fmt.Fprintf(&buf, "Algorithm:  %s\n", result.Algorithm)
	fmt.Fprintf(&buf, "Objective:  %s\n", result.Objective)
	fmt.Fprintf(&buf, "Trials:     %d/%d (%d succeeded, %d failed)\n",
		result.TotalTrials, result.PlannedTrials, result.SucceededCount(), result.FailedCount())
	fmt.Fprintf(&buf, "Duration:   %s\n", result.Timing.Duration)
	if result.WasInterrupted {
		buf.WriteString("Status:     interrupted, results are partial\n")
	}

	if result.BestTrial == nil {
		buf.WriteString("\nNo trial succeeded.\n")
	} else {
		s := result.Scores
		fmt.Fprintf(&buf, "Scores:     mean %.4f, std %.4f, min %.4f, max %.4f\n\n", s.Mean, s.StdDev, s.Min, s.Max)

		table := tablewriter.NewWriter(&buf)
		table.SetHeader([]string{"Rank", "Trial", "Score", "Parameters", "Duration"})
		table.SetAutoWrapText(false)
		for i, t := range result.TopTrials(top) {
			table.Append([]string{
				strconv.Itoa(i + 1),
				strconv.Itoa(t.ID),
				fmt.Sprintf("%.4f", *t.Score),
				t.Params.String(),
				t.Duration.String(),
			})
		}
		table.Render()
	}

	if lines := result.FailureSummary(); len(lines) > 0 {
		buf.WriteString("\n")
		for _, line := range lines {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}
