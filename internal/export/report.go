package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/nao1215/markdown"
)

// ReportMarkdownFile is the name of the rendered run report in the data
// directory.
const ReportMarkdownFile = "report.md"

// maxReportFailures bounds the failure table; the JSON report keeps all.
const maxReportFailures = 100

// WriteReportMarkdown renders a run report as Markdown.
func WriteReportMarkdown(w io.Writer, results *types.Results) error {
	md := markdown.NewMarkdown(w)

	md.H1("Harvest Report")
	md.PlainText("")

	status := "Complete"
	if results.Canceled {
		status = "Interrupted (partial results)"
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + results.RunID + "`"},
			{"Started", formatTime(results.StartedAt)},
			{"Finished", formatTime(results.FinishedAt)},
			{"Duration", results.FinishedAt.Sub(results.StartedAt).Round(time.Second).String()},
			{"Status", status},
		},
	})
	md.PlainText("")

	md.H2("Pages")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Counter", "Count"},
		Rows: [][]string{
			{"Discovered", strconv.Itoa(results.Discovered)},
			{"Enqueued", strconv.Itoa(results.Enqueued)},
			{"Processed", strconv.Itoa(results.Processed)},
			{"Failed", strconv.Itoa(results.Failed)},
			{"Pending", strconv.Itoa(results.Pending)},
			{"Depth limited", strconv.Itoa(results.DepthLimited)},
		},
	})
	md.PlainText("")

	md.H2("Listings")
	md.PlainText("")
	md.BulletList(
		fmt.Sprintf("Emitted: %d", results.Emitted),
		fmt.Sprintf("Dropped as invalid: %d", results.Dropped),
	)
	md.PlainText("")

	writeRetries(md, results.Retries)
	writeFailures(md, results.Failures)

	return md.Build()
}

func writeRetries(md *markdown.Markdown, hosts []types.HostRetries) {
	if len(hosts) == 0 {
		return
	}

	md.H2("Retries")
	md.PlainText("")

	rows := make([][]string, len(hosts))
	for i, h := range hosts {
		last := "-"
		if h.LastStatus != 0 {
			last = strconv.Itoa(h.LastStatus)
		}
		rows[i] = []string{
			h.Host,
			strconv.Itoa(h.Retries),
			strconv.Itoa(h.Throttled),
			strconv.Itoa(h.GaveUp),
			last,
			h.MaxWait.Round(time.Millisecond).String(),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Host", "Retries", "Throttled", "Gave up", "Last status", "Longest pause"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeFailures(md *markdown.Markdown, failures []types.Failure) {
	md.H2("Failures")
	md.PlainText("")

	if len(failures) == 0 {
		md.PlainText("No failures.")
		md.PlainText("")
		return
	}

	byStage := make(map[string]int)
	for _, f := range failures {
		byStage[f.Stage]++
	}
	stages := make([]string, 0, len(byStage))
	for stage := range byStage {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	stageRows := make([][]string, 0, len(stages))
	for _, stage := range stages {
		stageRows = append(stageRows, []string{stage, strconv.Itoa(byStage[stage])})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Stage", "Count"},
		Rows:   stageRows,
	})
	md.PlainText("")

	shown := failures
	if len(shown) > maxReportFailures {
		shown = shown[:maxReportFailures]
	}
	rows := make([][]string, len(shown))
	for i, f := range shown {
		rows[i] = []string{f.URL, string(f.Kind), f.Stage, truncate(f.Reason, 80)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Kind", "Stage", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(failures) > len(shown) {
		md.PlainTextf("%d more failure(s) are listed in report.json.", len(failures)-len(shown))
	}
}

// SaveReportMarkdown writes the rendered report into dataDir.
func SaveReportMarkdown(dataDir string, results *types.Results) error {
	f, err := os.Create(filepath.Join(dataDir, ReportMarkdownFile))
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := WriteReportMarkdown(f, results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
