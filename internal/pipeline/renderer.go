package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"

	"github.com/ppiankov/authrules/internal/model"
)

// Renderer writes reports in the supported output formats
type Renderer struct {
	markdown goldmark.Markdown
}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	return &Renderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// WriteJSON writes the full report as indented JSON
func (r *Renderer) WriteJSON(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteJSONL writes one flat rule record per line
func (r *Renderer) WriteJSONL(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	for _, record := range report.Records() {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}

// WriteMarkdown writes the human audit report
func (r *Renderer) WriteMarkdown(w io.Writer, report *model.Report) error {
	_, err := io.WriteString(w, r.Markdown(report))
	return err
}

// WriteHTML writes the audit report converted to a standalone HTML page
func (r *Renderer) WriteHTML(w io.Writer, report *model.Report) error {
	var body bytes.Buffer
	if err := r.markdown.Convert([]byte(r.Markdown(report)), &body); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(title(report)), body.String())
	return err
}

// RenderJSON writes the JSON report to path
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteJSON(w, report) })
}

// RenderJSONL writes the flat rule records to path
func (r *Renderer) RenderJSONL(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteJSONL(w, report) })
}

// RenderMarkdown writes the Markdown audit report to path
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteMarkdown(w, report) })
}

// RenderHTML writes the HTML audit report to path
func (r *Renderer) RenderHTML(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteHTML(w, report) })
}

// RenderSummary prints rules produced against chunks flagged for review
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	a := report.Audit
	_, _ = fmt.Fprintf(w, "%s\n", title(report))
	_, _ = fmt.Fprintf(w, "  Rules produced:     %d\n", a.RulesProduced)
	_, _ = fmt.Fprintf(w, "  Chunks:             %d\n", a.Chunks)
	_, _ = fmt.Fprintf(w, "  Flagged for review: %d chunk(s), %d item(s)\n", a.FlaggedForReview, len(report.Review))
	if len(a.UnclassifiedChunks) > 0 {
		_, _ = fmt.Fprintf(w, "  Unclassified:       %s\n", joinInts(a.UnclassifiedChunks))
	}
	if len(a.UnattachedChunks) > 0 {
		_, _ = fmt.Fprintf(w, "  Unattached:         %s\n", joinInts(a.UnattachedChunks))
	}
	if len(a.UnresolvedChunks) > 0 {
		_, _ = fmt.Fprintf(w, "  Unresolved:         %s\n", joinInts(a.UnresolvedChunks))
	}
}

// Markdown renders the audit report
func (r *Renderer) Markdown(report *model.Report) string {
	var b strings.Builder
	a := report.Audit

	fmt.Fprintf(&b, "# %s\n\n", title(report))
	if report.Payer != "" {
		fmt.Fprintf(&b, "**Payer:** %s\n\n", report.Payer)
	}

	b.WriteString("## Audit\n\n")
	b.WriteString("| Rules | Chunks | Flagged for review | Unclassified | Unattached | Unresolved |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %s | %s | %s |\n\n",
		a.RulesProduced, a.Chunks, a.FlaggedForReview,
		cell(joinInts(a.UnclassifiedChunks)), cell(joinInts(a.UnattachedChunks)), cell(joinInts(a.UnresolvedChunks)))

	if len(a.LabelCounts) > 0 {
		labels := make([]string, 0, len(a.LabelCounts))
		for label := range a.LabelCounts {
			labels = append(labels, string(label))
		}
		sort.Strings(labels)
		b.WriteString("| Label | Chunks |\n|---|---|\n")
		for _, label := range labels {
			fmt.Fprintf(&b, "| %s | %d |\n", label, a.LabelCounts[model.ContentType(label)])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rules\n\n")
	if len(report.Rules) == 0 {
		b.WriteString("No rules produced.\n\n")
	} else {
		b.WriteString("| Service | Category | Authorization | CPT codes | ICD codes | Exceptions | Confidence | Sources |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for i := range report.Rules {
			rule := &report.Rules[i]
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %.3f | %s |\n",
				cell(rule.Service), cell(rule.Category), rule.AuthRequirement,
				cell(strings.Join(rule.CPTCodes.Values(), ", ")),
				cell(strings.Join(rule.ICDCodes.Values(), ", ")),
				cell(exceptionsText(rule.Exceptions)),
				rule.Confidence, joinInts(rule.SourceRefs))
		}
		b.WriteString("\n")
	}

	if len(report.Review) > 0 {
		b.WriteString("## Needs review\n\n")
		b.WriteString("| Chunk | Line | Reason | Detail | Text |\n|---|---|---|---|---|\n")
		for _, item := range report.Review {
			fmt.Fprintf(&b, "| %d | %d | %s | %s | %s |\n",
				item.Ordinal, item.Source.Line, item.Reason, cell(item.Detail), cell(truncate(item.Text, 160)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func title(report *model.Report) string {
	if report.Source == "" {
		return "Authorization rules"
	}
	return "Authorization rules: " + report.Source
}

func exceptionsText(exceptions []model.ExceptionClause) string {
	parts := make([]string, len(exceptions))
	for i, e := range exceptions {
		parts[i] = fmt.Sprintf("%s %s {%s}", e.Kind, e.Polarity, strings.Join(e.Scope, ", "))
	}
	return strings.Join(parts, "; ")
}

// cell makes text safe inside a GFM table cell
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

// writeFile writes to path, or to stdout when path is "-"
func writeFile(path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
