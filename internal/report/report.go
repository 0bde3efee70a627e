// Package report renders keystroke statistics for the terminal and for
// export files.
package report

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/natefinch/atomic"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/domain"
)

const (
	displayLayout = "02 Jan 2006"
	barWidth      = 24
	ruleWidth     = 36
)

// View selects the sections of the stats report. The zero View shows the
// daily breakdown.
type View struct {
	Daily   bool
	Weekly  bool
	Monthly bool
}

type styles struct {
	title, total, count, dim colorizer
}

type colorizer func(a ...any) string

func newStyles(color bool) styles {
	if !color {
		plain := func(a ...any) string { return fmt.Sprint(a...) }
		return styles{plain, plain, plain, plain}
	}
	return styles{
		title: text.Colors{text.FgHiWhite, text.Bold}.Sprint,
		total: text.Colors{text.FgHiCyan, text.Bold}.Sprint,
		count: text.Colors{text.FgHiGreen}.Sprint,
		dim:   text.Colors{text.FgHiBlack}.Sprint,
	}
}

// FormatDate renders d as "07 Oct 2025". Unparseable dates are returned
// as stored.
func FormatDate(d domain.Date) string {
	t, err := d.Time()
	if err != nil {
		return d.String()
	}
	return t.Format(displayLayout)
}

// WriteStats prints the lifetime total and the sections chosen by view,
// relative to today.
func WriteStats(w io.Writer, rec domain.Record, today domain.Date, view View, color bool) error {
	st := newStyles(color)
	if !view.Daily && !view.Weekly && !view.Monthly {
		view.Daily = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n  %s\n", st.title("Keystroke Statistics"))
	fmt.Fprintf(&b, "  %s %s\n", st.dim("Total:"), st.total(comma(rec.Total)))

	if view.Daily {
		fmt.Fprintf(&b, "\n  %s\n", st.title(fmt.Sprintf("Daily Activity (Last %d Days)", domain.WeekDays)))
		b.WriteString(dailyTable(rec.Series(today, domain.WeekDays), st))
		b.WriteString("\n")
	}
	if view.Weekly {
		writeSummary(&b, st, fmt.Sprintf("Weekly Summary (%d days)", domain.WeekDays), rec.Weekly(today))
	}
	if view.Monthly {
		writeSummary(&b, st, fmt.Sprintf("Monthly Summary (%d days)", domain.MonthDays), rec.Monthly(today))
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// comma formats n with thousands separators over the full uint64 range.
func comma(n uint64) string {
	return humanize.BigComma(new(big.Int).SetUint64(n))
}

func writeSummary(b *strings.Builder, st styles, title string, n uint64) {
	fmt.Fprintf(b, "\n  %s\n", st.title(title))
	fmt.Fprintf(b, "  %s\n", st.dim(strings.Repeat("─", ruleWidth-8)))
	fmt.Fprintf(b, "  %s keystrokes\n", st.total(comma(n)))
}

func dailyTable(days []domain.DayCount, st styles) string {
	var peak uint64
	for _, d := range days {
		peak = max(peak, d.Count)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.DrawBorder = false
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	tw.AppendHeader(table.Row{"Date", "Keystrokes", ""})
	for _, d := range days {
		tw.AppendRow(table.Row{
			st.dim(FormatDate(d.Date)),
			st.count(comma(d.Count)),
			st.count(bar(d.Count, peak)),
		})
	}
	return indent(tw.Render(), "  ")
}

// bar scales n against peak. Any non-zero day gets at least one cell.
func bar(n, peak uint64) string {
	if n == 0 || peak == 0 {
		return ""
	}
	cells := int(float64(n) / float64(peak) * barWidth)
	if cells == 0 {
		cells = 1
	}
	return strings.Repeat("█", cells)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// FormatExport renders the plain-text export: the total, every recorded day
// newest first, then the weekly and monthly sums relative to today.
func FormatExport(rec domain.Record, today domain.Date) string {
	var b strings.Builder
	b.WriteString("Keystroke Counter Statistics\n")
	b.WriteString(strings.Repeat("═", ruleWidth) + "\n\n")
	fmt.Fprintf(&b, "Total Keystrokes: %d\n\n", rec.Total)

	b.WriteString("Daily Records:\n")
	b.WriteString(strings.Repeat("─", ruleWidth) + "\n")
	for _, d := range rec.Days() {
		fmt.Fprintf(&b, "%s: %d keystrokes\n", FormatDate(d.Date), d.Count)
	}

	fmt.Fprintf(&b, "\nWeekly Summary (%d days):  %d keystrokes\n", domain.WeekDays, rec.Weekly(today))
	fmt.Fprintf(&b, "Monthly Summary (%d days): %d keystrokes\n", domain.MonthDays, rec.Monthly(today))
	return b.String()
}

// Export writes FormatExport to path, replacing any existing file
// atomically.
func Export(path string, rec domain.Record, today domain.Date) error {
	if err := atomic.WriteFile(path, strings.NewReader(FormatExport(rec, today))); err != nil {
		return xerrors.Errorf("write export %s: %w", path, err)
	}
	return nil
}
