package mec

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/mec/executor"
	"github.com/ethereum-optimism/infra/mec/status"
)

// printResultsTable prints one row per execution context.
func (m *mec) printResultsTable() {
	m.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(m.out)
	t.SetTitle(fmt.Sprintf("mec %s results (%s)", m.result.Variant, formatDuration(m.result.Duration)))

	t.AppendHeader(table.Row{"Target", "Duration", "Status", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Target", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, c := range m.result.Contexts {
		t.AppendRow(table.Row{
			m.displayTarget(c.Target),
			formatDuration(c.Duration),
			getResultString(c),
			errorString(c),
		})
	}

	if m.result.Status == status.Pass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(m.result.Duration),
		fmt.Sprintf("%d/%d passed", len(m.result.Contexts)-m.result.Failed(), len(m.result.Contexts)),
		m.result.Status,
	})

	t.Render()
}

// displayTarget shortens a target to its path below the first test directory.
func (m *mec) displayTarget(target executor.Target) string {
	for _, dir := range m.config.TestDirs {
		if rel, err := filepath.Rel(dir, string(target)); err == nil && filepath.IsLocal(rel) {
			return rel
		}
	}
	return string(target)
}

// getResultString returns a string representing the context result
func getResultString(c executor.ContextResult) string {
	switch {
	case !c.Reported:
		return "✗ silent"
	case c.Status == status.Pass:
		return "✓ pass"
	default:
		return "✗ fail"
	}
}

func errorString(c executor.ContextResult) string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
