package optimizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

func TestDetectKind(t *testing.T) {
	e := NewDocconvExtractor(false)

	cases := []struct {
		path, declared string
		want           core.DocumentKind
	}{
		{"a.pdf", "", core.KindPDF},
		{"A.PDF", "", core.KindPDF},
		{"b.docx", "", core.KindWord},
		{"b.doc", "", core.KindWord},
		{"c.txt", "", core.KindPlainText},
		{"c.md", "", core.KindPlainText},
		{"upload", "application/pdf", core.KindPDF},
		{"upload", "text/plain; charset=utf-8", core.KindPlainText},
		{"d.png", "image/png", core.KindUnsupported},
		{"e", "", core.KindUnsupported},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, e.DetectKind(tc.path, tc.declared), tc.path)
	}
}

func TestExtractPlainTextDropsInvalidUTF8(t *testing.T) {
	src := writeFile(t, t.TempDir(), "x.txt", "ok\xff text")

	text, err := NewDocconvExtractor(false).Extract(context.Background(), src, core.KindPlainText)
	require.NoError(t, err)
	require.Equal(t, "ok text", text)
}

func TestExtractUnsupportedReturnsNothing(t *testing.T) {
	src := writeFile(t, t.TempDir(), "x.bin", "raw")

	text, err := NewDocconvExtractor(false).Extract(context.Background(), src, core.KindUnsupported)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestExtractMissingFile(t *testing.T) {
	_, err := NewDocconvExtractor(false).Extract(context.Background(), "/does/not/exist.txt", core.KindPlainText)
	require.ErrorIs(t, err, core.ErrExtractionFailed)
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDocconvExtractor(false).Extract(ctx, "whatever.txt", core.KindPlainText)
	require.ErrorIs(t, err, context.Canceled)
}
