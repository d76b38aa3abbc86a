package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs GitHub-flavored Markdown.
//
// Rotation reports get one H2 section per instance with a property table,
// a warning alert when the rotation stopped early and a bullet list of the
// used addresses with their countries. History reports are a single table
// of observations; when more than one session contributed, a mermaid pie
// chart of observations per session follows.
//
// The document is built with github.com/nao1215/markdown and written in
// one piece, so a failed write never leaves half a table behind.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// WriteRotations writes a section per instance.
func (w *MarkdownWriter) WriteRotations(rotations []*Rotation) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("IP Rotation")
	md.PlainText("")

	for _, r := range rotations {
		md.H2(fmt.Sprintf("Instance %d", r.Instance))
		md.PlainText("")

		md.Table(markdown.TableSet{
			Header: []string{"Property", "Value"},
			Rows: [][]string{
				{"SOCKS", "`" + r.SocksAddr + "`"},
				{"Exit Nodes", escapeCell(orDash(r.ExitNodes))},
				{"Baseline IP", orDash(r.BaselineIP)},
				{"Renewals", strconv.Itoa(len(r.Renewed))},
				{"Duration", r.Duration().Round(time.Millisecond).String()},
			},
		})
		md.PlainText("")

		if r.Error != "" {
			md.Warningf("Rotation stopped early: %s", r.Error)
			md.PlainText("")
		}

		if len(r.UsedIPs) > 0 {
			md.H3("Used IPs")
			md.PlainText("")
			md.BulletList(r.IPLabels(r.UsedIPs)...)
			md.PlainText("")
		}
	}

	return len(md.String()), md.Build()
}

// WriteHistory writes the observation table, a per-session pie chart and
// a summary.
func (w *MarkdownWriter) WriteHistory(history *History) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("IP History")
	md.PlainText("")

	if history == nil || len(history.Observations) == 0 {
		md.Note("No observations recorded.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, 0, len(history.Observations))
	for _, o := range history.Observations {
		rows = append(rows, []string{
			strconv.FormatInt(o.ID, 10),
			escapeCell(o.Session),
			"`" + o.IP + "`",
			o.ObservedAt.Format(timeLayout),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Session", "IP", "Observed At"},
		Rows:   rows,
	})
	md.PlainText("")

	order, counts := history.BySession()
	if len(order) > 1 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Observations per Session"),
			piechart.WithShowData(true),
		)
		for _, session := range order {
			chart.LabelAndIntValue(session, uint64(counts[session])) //nolint:gosec // counts are positive
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	md.PlainTextf("%d observations, %d distinct addresses across %s.",
		len(history.Observations), history.DistinctIPs(), plural(len(order), "session"))

	return len(md.String()), md.Build()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}

// escapeCell keeps a value from breaking the table layout.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
