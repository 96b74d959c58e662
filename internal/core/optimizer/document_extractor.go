package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/dslipak/pdf"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor with sajari/docconv for
// Word and HTML and dslipak/pdf for PDF.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

var kindByExt = map[string]core.DocumentKind{
	".pdf":      core.KindPDF,
	".docx":     core.KindWord,
	".doc":      core.KindWord,
	".txt":      core.KindPlainText,
	".text":     core.KindPlainText,
	".md":       core.KindPlainText,
	".markdown": core.KindPlainText,
	".csv":      core.KindPlainText,
	".html":     core.KindPlainText,
	".htm":      core.KindPlainText,
}

var kindByMIME = map[string]core.DocumentKind{
	"application/pdf":    core.KindPDF,
	"application/msword": core.KindWord,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": core.KindWord,
	"text/plain":    core.KindPlainText,
	"text/markdown": core.KindPlainText,
	"text/csv":      core.KindPlainText,
	"text/html":     core.KindPlainText,
}

// DetectKind picks the extraction family from the file extension, falling
// back to the declared content type.
func (e *DocconvExtractor) DetectKind(path, declaredType string) core.DocumentKind {
	if k, ok := kindByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return k
	}
	if declaredType != "" {
		if mt, _, err := mime.ParseMediaType(declaredType); err == nil {
			if k, ok := kindByMIME[mt]; ok {
				return k
			}
		}
	}
	return core.KindUnsupported
}

// Extract returns the raw text of the file at path. Unsupported kinds yield
// an empty string; callers copy those files through untouched.
func (e *DocconvExtractor) Extract(ctx context.Context, path string, kind core.DocumentKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch kind {
	case core.KindPDF:
		return extractPDF(path)
	case core.KindWord:
		return e.extractWord(path)
	case core.KindPlainText:
		return e.extractText(path)
	default:
		return "", nil
	}
}

func extractPDF(path string) (text string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read pdf: %v", core.ErrExtractionFailed, err)
	}

	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: pdf parser panic: %v", core.ErrExtractionFailed, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", core.ErrExtractionFailed, err)
	}

	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", core.ErrExtractionFailed, i, err)
		}
		buf.WriteString(pageText)
		buf.WriteString("\n")
	}

	content := strings.TrimSpace(buf.String())
	if content == "" {
		return "", fmt.Errorf("%w: pdf has no extractable text", core.ErrExtractionFailed)
	}
	return content, nil
}

func (e *DocconvExtractor) extractWord(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open word document: %v", core.ErrExtractionFailed, err)
	}
	defer f.Close()

	var text string
	if strings.EqualFold(filepath.Ext(path), ".doc") {
		text, _, err = docconv.ConvertDoc(f)
	} else {
		text, _, err = docconv.ConvertDocx(f)
	}
	if err != nil {
		return "", fmt.Errorf("%w: docconv: %v", core.ErrExtractionFailed, err)
	}
	return text, nil
}

func (e *DocconvExtractor) extractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("%w: open html: %v", core.ErrExtractionFailed, err)
		}
		defer f.Close()
		text, _, err := docconv.ConvertHTML(f, e.useReadability)
		if err != nil {
			return "", fmt.Errorf("%w: docconv html: %v", core.ErrExtractionFailed, err)
		}
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read text: %v", core.ErrExtractionFailed, err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
