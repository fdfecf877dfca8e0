package converter

import (
	"bytes"
	"strings"

	"github.com/go-pdf/fpdf"
)

// PDFRenderer renders a markdown document to PDF bytes.
type PDFRenderer interface {
	Render(markdown string) ([]byte, error)
}

// FPDFRenderer renders markdown line-by-line into an A4 document: ATX
// headings map to larger serif fonts, list items to indented bullets,
// everything else to justified paragraphs. Inline emphasis markers are
// stripped rather than styled.
type FPDFRenderer struct{}

// NewPDFRenderer creates the default renderer.
func NewPDFRenderer() *FPDFRenderer {
	return &FPDFRenderer{}
}

var inlineMarkers = strings.NewReplacer("**", "", "__", "", "`", "")

// Render renders markdown to PDF bytes.
// Parameters:
//   - markdown: source document.
// Returns:
//   - []byte: PDF file contents.
//   - error: non-nil if PDF generation fails.
func (r *FPDFRenderer) Render(markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	const lineHeight = 6.0
	flushParagraph := func(paragraph []string) {
		if len(paragraph) == 0 {
			return
		}
		pdf.SetFont("Times", "", 12)
		pdf.MultiCell(0, lineHeight, tr(strings.Join(paragraph, " ")), "", "J", false)
		pdf.Ln(3)
	}

	var paragraph []string
	inCodeBlock := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			flushParagraph(paragraph)
			paragraph = nil
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			pdf.SetFont("Courier", "", 10)
			pdf.MultiCell(0, 5, tr(line), "", "L", false)
			continue
		}

		switch {
		case trimmed == "":
			flushParagraph(paragraph)
			paragraph = nil
		case strings.HasPrefix(trimmed, "#"):
			flushParagraph(paragraph)
			paragraph = nil
			level := headingLevel(trimmed)
			title := inlineMarkers.Replace(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			pdf.SetFont("Times", "B", headingSize(level))
			pdf.Ln(2)
			pdf.MultiCell(0, lineHeight+2, tr(title), "", "L", false)
			pdf.Ln(2)
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flushParagraph(paragraph)
			paragraph = nil
			item := inlineMarkers.Replace(strings.TrimSpace(trimmed[2:]))
			pdf.SetFont("Times", "", 12)
			pdf.SetX(26)
			pdf.MultiCell(0, lineHeight, tr("• "+item), "", "L", false)
			pdf.SetX(20)
		default:
			paragraph = append(paragraph, inlineMarkers.Replace(trimmed))
		}
	}
	flushParagraph(paragraph)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, convErr("pdf", "rendering failed: %w", err)
	}
	return buf.Bytes(), nil
}

func headingLevel(line string) int {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	return level
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 20
	case 2:
		return 16
	case 3:
		return 13
	default:
		return 12
	}
}
