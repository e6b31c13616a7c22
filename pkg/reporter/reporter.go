package reporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/amosWeiskopf/snapcrawl/internal/models"
	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ErrUnsupportedFormat is returned for report formats other than json and markdown.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Reporter renders run summaries
type Reporter struct {
	// maxRows caps the document and failure tables in Markdown output.
	maxRows int
}

// New creates a new Reporter instance
func New() *Reporter {
	return &Reporter{maxRows: 200}
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q (use .md or .json)", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// GenerateReport renders summary in the given format
func (r *Reporter) GenerateReport(summary *models.RunSummary, format string) (string, error) {
	var buf bytes.Buffer
	if err := r.Write(&buf, summary, format); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Write renders summary to w
func (r *Reporter) Write(w io.Writer, summary *models.RunSummary, format string) error {
	switch format {
	case FormatJSON:
		return r.writeJSON(w, summary)
	case FormatMarkdown:
		return r.writeMarkdown(w, summary)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// WriteFile renders summary into path, choosing the format by extension.
func (r *Reporter) WriteFile(path string, summary *models.RunSummary) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := r.Write(&buf, summary, format); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *Reporter) writeJSON(w io.Writer, summary *models.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return nil
}

func (r *Reporter) writeMarkdown(w io.Writer, summary *models.RunSummary) error {
	md := markdown.NewMarkdown(w)

	md.H1("SnapCrawl Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + summary.Seed + "`"},
			{"Run ID", "`" + summary.RunID + "`"},
			{"Started", summary.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", summary.Duration.Round(time.Millisecond).String()},
			{"Status", statusText(summary)},
		},
	})
	md.PlainText("")

	r.writeTotals(md, summary)
	r.writeDomains(md, summary)
	r.writeDocuments(md, summary)
	r.writeFailures(md, summary)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated %s*", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	return md.Build()
}

func statusText(summary *models.RunSummary) string {
	switch {
	case summary.Canceled:
		return "Interrupted (partial results)"
	case summary.Failed > 0:
		return fmt.Sprintf("Complete with %d failure(s)", summary.Failed)
	default:
		return "Complete"
	}
}

func (r *Reporter) writeTotals(md *markdown.Markdown, summary *models.RunSummary) {
	md.H2("Totals")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Enqueued", strconv.Itoa(summary.Enqueued)},
			{"Processed", strconv.Itoa(summary.Processed)},
			{"Saved", strconv.Itoa(summary.Saved)},
			{"Failed", strconv.Itoa(summary.Failed)},
			{"Skipped (history)", strconv.Itoa(summary.SkippedByHistory)},
			{"Skipped (depth)", strconv.Itoa(summary.SkippedByDepth)},
			{"Links discovered", strconv.Itoa(summary.LinksDiscovered)},
			{"Interactions", strconv.Itoa(summary.Interactions)},
			{"Average page time", summary.AvgPageTime.Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")

	statuses := sortedKeys(summary.ByStatus)
	if len(statuses) > 1 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Pages by status"),
			piechart.WithShowData(true),
		)
		for _, s := range statuses {
			chart.LabelAndIntValue(s, uint64(summary.ByStatus[s]))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	if summary.Canceled {
		md.Warning("The run was interrupted. Pages in flight were not recorded and will be retried next run.")
		md.PlainText("")
	}
}

func (r *Reporter) writeDomains(md *markdown.Markdown, summary *models.RunSummary) {
	if len(summary.Domains) == 0 {
		return
	}
	md.H2("Domains")
	md.PlainText("")
	rows := make([][]string, 0, len(summary.Domains))
	for _, d := range summary.Domains {
		rows = append(rows, []string{d.Domain, strconv.Itoa(d.Pages), strconv.Itoa(d.Saved), strconv.Itoa(d.Failed)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Domain", "Pages", "Saved", "Failed"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (r *Reporter) writeDocuments(md *markdown.Markdown, summary *models.RunSummary) {
	md.H2("Saved Documents")
	md.PlainText("")
	if len(summary.Documents) == 0 {
		md.PlainText("No documents were saved.")
		md.PlainText("")
		return
	}

	docs := summary.Documents
	if len(docs) > r.maxRows {
		docs = docs[:r.maxRows]
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			"`" + d.Filename + "`",
			escapeCell(utils.TruncateText(d.Title, 60)),
			d.URL,
			strconv.Itoa(d.Depth),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"File", "Title", "URL", "Depth"},
		Rows:   rows,
	})
	if n := len(summary.Documents) - len(docs); n > 0 {
		md.PlainTextf("... and %d more", n)
	}
	md.PlainText("")
}

func (r *Reporter) writeFailures(md *markdown.Markdown, summary *models.RunSummary) {
	if len(summary.Failures) == 0 {
		return
	}
	md.H2("Failures")
	md.PlainText("")

	failures := summary.Failures
	if len(failures) > r.maxRows {
		failures = failures[:r.maxRows]
	}
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		msg := f.Error
		if msg == "" {
			msg = "-"
		}
		rows = append(rows, []string{f.URL, f.Status, escapeCell(utils.TruncateText(msg, 80))})
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Status", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// escapeCell keeps pipes and newlines from breaking table rows.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
