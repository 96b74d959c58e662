package optimizer

import (
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

// pdfLayout is the fixed layout used when regenerating a PDF from its text.
// Sizes are in points.
type pdfLayout struct {
	Margin   float64
	FontSize float64
	Leading  float64
	Font     string
}

var defaultPDFLayout = pdfLayout{
	Margin:   48,
	FontSize: 10,
	Leading:  12,
	Font:     "Helvetica",
}

// writeTextPDF lays text out as word-wrapped lines on A4 pages and writes the
// result to dst. A new page starts when the next line would cross the bottom
// margin.
func writeTextPDF(dst, text string, layout pdfLayout) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layout pdf: %v", r)
		}
	}()

	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetCompression(true)
	doc.SetMargins(layout.Margin, layout.Margin, layout.Margin)
	doc.SetAutoPageBreak(false, 0)
	doc.SetFont(layout.Font, "", layout.FontSize)
	doc.SetCreator("knowledge-ingest", false)

	// core fonts only carry single-byte widths
	tr := doc.UnicodeTranslatorFromDescriptor("")
	text = strings.Map(latin1Only, text)

	pageW, pageH := doc.GetPageSize()
	width := pageW - 2*layout.Margin
	bottom := pageH - layout.Margin

	doc.AddPage()
	y := layout.Margin
	for _, line := range doc.SplitText(text, width) {
		if y+layout.Leading > bottom {
			doc.AddPage()
			y = layout.Margin
		}
		doc.Text(layout.Margin, y+layout.FontSize, tr(line))
		y += layout.Leading
	}

	if err := doc.Error(); err != nil {
		return fmt.Errorf("layout pdf: %w", err)
	}
	if err := doc.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func latin1Only(r rune) rune {
	if r > 0xFF {
		return '?'
	}
	return r
}
