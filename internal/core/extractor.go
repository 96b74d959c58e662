package core

import (
	"context"
)

// DocumentKind is the extraction family of a source file.
type DocumentKind string

const (
	KindPDF         DocumentKind = "pdf"
	KindWord        DocumentKind = "word"
	KindPlainText   DocumentKind = "plainText"
	KindUnsupported DocumentKind = "unsupported"
)

// DocumentExtractor pulls raw text out of a file on local disk.
// Implementations never modify the source file.
type DocumentExtractor interface {
	DetectKind(path, declaredType string) DocumentKind
	Extract(ctx context.Context, path string, kind DocumentKind) (string, error)
}
