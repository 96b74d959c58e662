package optimizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestOptimizePlainTextShrinks(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "notes.txt", "Hello   world\n\n  foo\t bar ,  baz")

	o := NewOptimizer(NewDocconvExtractor(false), nil)
	res, err := o.Optimize(context.Background(), src, "", "text/plain")
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "notes-optimized.txt"), res.OutputPath)
	require.Equal(t, "plain-text", res.Strategy)
	require.Equal(t, core.KindPlainText, res.Kind)
	require.Equal(t, "Hello world foo bar, baz", res.Text)
	require.Less(t, res.OptimizedSize, res.OriginalSize)
	require.Positive(t, res.ReductionPercent)

	got, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	require.Equal(t, res.Text, string(got))
	require.Equal(t, "plain-text", res.Metadata["processing_method"])
	require.Equal(t, "txt", res.Metadata["file_type"])
}

func TestOptimizeUnsupportedCopiesVerbatim(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "blob.bin", "\x00\x01\x02 raw bytes")

	o := NewOptimizer(NewDocconvExtractor(false), nil)
	res, err := o.Optimize(context.Background(), src, filepath.Join(dir, "out.bin"), "")
	require.NoError(t, err)

	require.Equal(t, "copy", res.Strategy)
	require.Equal(t, core.KindUnsupported, res.Kind)
	require.Equal(t, res.OriginalSize, res.OptimizedSize)
	require.Zero(t, res.ReductionPercent)
	require.Empty(t, res.Text)
}

func TestOptimizeCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "broken.pdf", "this is not a pdf at all")

	o := NewOptimizer(NewDocconvExtractor(false), nil)
	_, err := o.Optimize(context.Background(), src, "", "application/pdf")
	require.ErrorIs(t, err, core.ErrOptimizationFailed)
	require.ErrorIs(t, err, core.ErrExtractionFailed)
}

func TestOptimizeRejectsSamePath(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.txt", "abc")

	o := NewOptimizer(NewDocconvExtractor(false), nil)
	_, err := o.Optimize(context.Background(), src, src, "")
	require.ErrorIs(t, err, core.ErrOptimizationFailed)
}

type stubExtractor struct {
	kind core.DocumentKind
	text string
	err  error
}

func (s stubExtractor) DetectKind(string, string) core.DocumentKind { return s.kind }

func (s stubExtractor) Extract(context.Context, string, core.DocumentKind) (string, error) {
	return s.text, s.err
}

func TestOptimizeWordWritesText(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "report.docx", strings.Repeat("binary-ish docx payload ", 40))

	o := NewOptimizer(stubExtractor{kind: core.KindWord, text: "Quarterly   report\n\nRevenue up ."}, nil)
	res, err := o.Optimize(context.Background(), src, "", "")
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "report-optimized.txt"), res.OutputPath)
	require.Equal(t, "Quarterly report Revenue up.", res.Text)
	require.Equal(t, "plain-text", res.Strategy)
}

func TestOptimizeExtractorErrorIsExtractionFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "x.docx", "data")

	o := NewOptimizer(stubExtractor{kind: core.KindWord, err: errors.New("boom")}, nil)
	_, err := o.Optimize(context.Background(), src, "", "")
	require.ErrorIs(t, err, core.ErrExtractionFailed)
}

type stubStrategy struct {
	name    string
	content string
	err     error
	calls   *int
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Write(_ context.Context, _, dst, _ string) error {
	if s.calls != nil {
		*s.calls++
	}
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dst, []byte(s.content), 0o644)
}

func TestRunStrategiesFallsBack(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.txt", "0123456789")
	dst := filepath.Join(dir, "dst.txt")

	var third int
	strategies := []Strategy{
		stubStrategy{name: "broken", err: errors.New("cannot")},
		stubStrategy{name: "too-big", content: "0123456789abcdef"},
		stubStrategy{name: "small", content: "0123"},
		stubStrategy{name: "never", content: "x", calls: &third},
	}

	s, size, err := RunStrategies(context.Background(), nil, strategies, src, dst, "", 10)
	require.NoError(t, err)
	require.Equal(t, "small", s.Name())
	require.EqualValues(t, 4, size)
	require.Zero(t, third)
}

func TestRunStrategiesAllFail(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.txt", "0123456789")
	dst := filepath.Join(dir, "dst.txt")

	strategies := []Strategy{
		stubStrategy{name: "a", err: errors.New("first")},
		stubStrategy{name: "b", content: strings.Repeat("x", 100)},
	}

	_, _, err := RunStrategies(context.Background(), nil, strategies, src, dst, "", 10)
	require.ErrorIs(t, err, core.ErrOptimizationFailed)
	require.Contains(t, err.Error(), "first")

	_, statErr := os.Stat(dst)
	require.True(t, os.IsNotExist(statErr))
}

func TestStrategiesForKinds(t *testing.T) {
	o := NewOptimizer(NewDocconvExtractor(false), nil)

	names := func(ss []Strategy) []string {
		out := make([]string, 0, len(ss))
		for _, s := range ss {
			out = append(out, s.Name())
		}
		return out
	}

	require.Equal(t, []string{"regenerate-pdf", "plain-text", "copy"}, names(o.strategiesFor(core.KindPDF)))
	require.Equal(t, []string{"plain-text", "copy"}, names(o.strategiesFor(core.KindWord)))
	require.Equal(t, []string{"copy"}, names(o.strategiesFor(core.KindUnsupported)))
}

func TestWriteTextPDFPaginates(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.pdf")

	text := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet consectetur ", 2000))
	require.NoError(t, writeTextPDF(dst, text, defaultPDFLayout))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "%PDF-"))
	require.Greater(t, strings.Count(string(data), "<</Type /Page\n"), 1)
}

func TestWriteTextPDFHandlesNonLatinText(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, writeTextPDF(dst, "naïve café 東京 ✓", defaultPDFLayout))
}

func TestDefaultOutputPath(t *testing.T) {
	require.Equal(t, "a/b-optimized.pdf", DefaultOutputPath("a/b.pdf", core.KindPDF))
	require.Equal(t, "a/b-optimized.txt", DefaultOutputPath("a/b.docx", core.KindWord))
	require.Equal(t, "noext-optimized", DefaultOutputPath("noext", core.KindUnsupported))
}

func TestReductionPercent(t *testing.T) {
	require.Equal(t, 0, ReductionPercent(0, 0))
	require.Equal(t, 50, ReductionPercent(200, 100))
	require.Equal(t, 33, ReductionPercent(3, 2))
	require.Equal(t, 0, ReductionPercent(10, 10))
}
