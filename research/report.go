package research

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/dshills/rewindgraph/graph"
)

const defaultReportTitle = "Research Report"

// ReportSection is one titled part of a report. Content is either a string,
// split into paragraphs on blank lines, or a list rendered as bullets. Data
// items with a title, authors and summary are rendered as references.
type ReportSection struct {
	Title   string           `json:"title"`
	Content any              `json:"content"`
	Data    []map[string]any `json:"data"`
}

// ReportGenerator renders a PDF report from the "title", "sections" and
// "metadata" inputs. Without sections it reports the research state: the
// summary, key points, papers and code results.
type ReportGenerator struct {
	// Now stamps the file name and the document dates. Nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Process implements graph.Capability.
func (r *ReportGenerator) Process(ctx context.Context, input map[string]any) graph.Stream {
	return func(yield func(graph.Update, error) bool) {
		if !yield(graph.Update{Status: "generating", Message: "Creating PDF report..."}, nil) {
			return
		}

		title, _ := input["title"].(string)
		if title == "" {
			title = defaultReportTitle
		}
		sections, err := reportSections(input)
		if err != nil {
			yield(graph.Update{}, fmt.Errorf("pdf_generator: %w", err))
			return
		}
		var author string
		if meta, ok := input["metadata"].(map[string]any); ok {
			author, _ = meta["author"].(string)
		}

		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		at := now()

		if err := ctx.Err(); err != nil {
			yield(graph.Update{}, err)
			return
		}
		doc, err := renderReport(title, author, sections, at)
		if err != nil {
			yield(graph.Update{}, fmt.Errorf("pdf_generator: %w", err))
			return
		}
		filename := fmt.Sprintf("%s_%s.pdf", strings.ReplaceAll(title, " ", "_"), at.Format("20060102_150405"))
		orDiscard(r.Logger).Debug("report rendered", "filename", filename, "bytes", len(doc), "sections", len(sections))

		yield(graph.Update{
			Status:  graph.UpdateCompleted,
			Message: "PDF report generated successfully",
			Delta: map[string]any{
				"report": map[string]any{
					"pdf_base64": base64.StdEncoding.EncodeToString(doc),
					"filename":   filename,
					"sections":   len(sections),
				},
				"messages":     []any{"PDF report generated: " + filename},
				"current_step": PDFGeneratorName,
			},
		}, nil)
	}
}

// reportSections decodes the "sections" input, or builds them from the
// research state when none are given.
func reportSections(input map[string]any) ([]ReportSection, error) {
	if raw, ok := input["sections"]; ok && raw != nil {
		var sections []ReportSection
		if err := remarshal(raw, &sections); err != nil {
			return nil, fmt.Errorf("decode sections: %w", err)
		}
		return sections, nil
	}

	var sections []ReportSection
	if q, ok := input["question"].(string); ok && q != "" {
		sections = append(sections, ReportSection{Title: "Question", Content: q})
	}
	if s, ok := input["summary"].(string); ok && s != "" {
		sections = append(sections, ReportSection{Title: "Summary", Content: s})
	}
	if kp, ok := input["key_points"]; ok && kp != nil {
		sections = append(sections, ReportSection{Title: "Key Points", Content: kp})
	}
	if lit, ok := input["literature_results"]; ok && lit != nil {
		var papers []map[string]any
		if err := remarshal(lit, &papers); err != nil {
			return nil, fmt.Errorf("decode literature_results: %w", err)
		}
		sections = append(sections, ReportSection{Title: "Literature", Data: papers})
	}
	if code, ok := input["code_results"]; ok && code != nil {
		var hits []CodeResult
		if err := remarshal(code, &hits); err != nil {
			return nil, fmt.Errorf("decode code_results: %w", err)
		}
		lines := make([]any, 0, len(hits))
		for _, h := range hits {
			lines = append(lines, fmt.Sprintf("%s/%s (%s)", h.Repository, h.FilePath, h.URL))
		}
		sections = append(sections, ReportSection{Title: "Code Examples", Content: lines})
	}
	return sections, nil
}

// remarshal converts state values, which may be typed structs or decoded
// JSON, into dst.
func remarshal(v, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func renderReport(title, author string, sections []ReportSection, at time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(at)
	pdf.SetModificationDate(at)
	pdf.SetTitle(title, true)
	pdf.SetCreator("rewindgraph", true)
	if author != "" {
		pdf.SetAuthor(author, true)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(0, 10, tr(title), "", "C", false)
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 10)
	line := "Generated: " + at.Format("2006-01-02 15:04")
	if author != "" {
		line += "  Author: " + author
	}
	pdf.CellFormat(0, 6, tr(line), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	for _, s := range sections {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.MultiCell(0, 8, tr(s.Title), "", "L", false)
		pdf.Ln(1)
		pdf.SetFont("Helvetica", "", 11)

		switch c := s.Content.(type) {
		case string:
			for _, para := range strings.Split(c, "\n\n") {
				if para = strings.TrimSpace(para); para != "" {
					pdf.MultiCell(0, 6, tr(para), "", "J", false)
					pdf.Ln(2)
				}
			}
		case []any:
			for _, item := range c {
				pdf.MultiCell(0, 6, tr(fmt.Sprintf("- %v", item)), "", "L", false)
			}
		case []string:
			for _, item := range c {
				pdf.MultiCell(0, 6, tr("- "+item), "", "L", false)
			}
		}

		for _, d := range s.Data {
			t, _ := d["title"].(string)
			if t == "" {
				continue
			}
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(0, 6, tr(t), "", "L", false)
			pdf.SetFont("Helvetica", "I", 10)
			if authors := joinAuthors(d["authors"]); authors != "" {
				pdf.MultiCell(0, 5, tr("Authors: "+authors), "", "L", false)
			}
			pdf.SetFont("Helvetica", "", 10)
			if summary, _ := d["summary"].(string); summary != "" {
				pdf.MultiCell(0, 5, tr(truncate(summary, 200)), "", "L", false)
			}
			pdf.Ln(2)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinAuthors(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case []any:
		names := make([]string, 0, len(a))
		for _, n := range a {
			names = append(names, fmt.Sprint(n))
		}
		return strings.Join(names, ", ")
	case []string:
		return strings.Join(a, ", ")
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
