// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st April 2026 9:24:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/ternarybob/specto/pkg/models"
	"github.com/ternarybob/specto/pkg/reconcile"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const detailWidth = 40

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderEntries renders the tracked set as a table. Active work sorts
// first, terminal entries last; a freshly-terminal entry still inside its
// grace window shows its status uppercased.
func renderEntries(entries []*reconcile.Entry, now time.Time) string {
	if len(entries) == 0 {
		return "No tracked videos"
	}

	sorted := make([]*reconcile.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := statusRank(sorted[i].Status), statusRank(sorted[j].Status)
		if ri != rj {
			return ri < rj
		}
		if !sorted[i].LastUpdated.Equal(sorted[j].LastUpdated) {
			return sorted[i].LastUpdated.After(sorted[j].LastUpdated)
		}
		return sorted[i].VideoID < sorted[j].VideoID
	})

	headers := []string{"VIDEO", "STATUS", "PROGRESS", "STAGE", "UPDATED", "SEL", "TITLE / ERROR"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft}

	rows := make([][]string, 0, len(sorted))
	for _, e := range sorted {
		status := string(e.Status)
		if e.FinalState {
			status = strings.ToUpper(status)
		}

		selected := ""
		if e.Selected {
			selected = "*"
		}

		detail := truncate(e.Title, detailWidth)
		if e.Status == models.StatusFailed && e.Error != "" {
			detail = truncate(e.Error, detailWidth)
		}

		rows = append(rows, []string{
			e.VideoID,
			status,
			fmt.Sprintf("%d%%", e.Progress),
			e.Stage,
			formatAge(now.Sub(e.LastUpdated)),
			selected,
			detail,
		})
	}

	return renderTable(headers, rows, aligns)
}

// statusRank orders the table: active work first, terminal entries last,
// failures above completions so they stay in view.
func statusRank(s models.ProcessingStatus) int {
	switch s {
	case models.StatusProcessing:
		return 0
	case models.StatusPending:
		return 1
	case models.StatusFailed:
		return 2
	case models.StatusCompleted:
		return 3
	default:
		return 4
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("  %-12s %s", label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

// formatAge renders an idle duration compactly: "42s", "7m03s", "3h12m".
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
