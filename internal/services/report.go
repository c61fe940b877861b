package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// Report line kinds
const (
	ReportKindSkipped   = "skipped"
	ReportKindError     = "error"
	ReportKindAIFailure = "ai_failure"
)

// ReportHeader is the first line of every error report
var ReportHeader = []string{"index", "kind", "reason"}

type reportLine struct {
	index  int
	kind   string
	reason string
}

// WriteReport writes one CSV line per skipped row, errored row and failed AI
// batch, ordered by row index
func WriteReport(w io.Writer, result models.ImportResult) error {
	lines := make([]reportLine, 0, len(result.Skipped)+len(result.Errors)+len(result.AIFailures))
	for _, s := range result.Skipped {
		lines = append(lines, reportLine{s.Index, ReportKindSkipped, s.Reason})
	}
	for _, e := range result.Errors {
		lines = append(lines, reportLine{e.Index, ReportKindError, e.Error})
	}
	for _, f := range result.AIFailures {
		reason := fmt.Sprintf("%s (rows %d-%d)", f.Reason, f.FirstIndex, f.FirstIndex+f.Count-1)
		lines = append(lines, reportLine{f.FirstIndex, ReportKindAIFailure, reason})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].index < lines[j].index })

	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, l := range lines {
		if err := cw.Write([]string{strconv.Itoa(l.index), l.kind, l.reason}); err != nil {
			return fmt.Errorf("failed to write report line: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// BuildReport renders the report in memory
func BuildReport(result models.ImportResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HasReportLines reports whether the run produced anything worth reporting
func HasReportLines(result models.ImportResult) bool {
	return len(result.Skipped) > 0 || len(result.Errors) > 0 || len(result.AIFailures) > 0
}
