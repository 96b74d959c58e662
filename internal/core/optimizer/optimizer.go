package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

// Result describes the artifact produced by Optimize.
//
// Text is the normalized text of the source, reused by chunking so the file is
// parsed once. It is empty for unsupported kinds.
type Result struct {
	OutputPath       string
	OriginalSize     int64
	OptimizedSize    int64
	ReductionPercent int
	Kind             core.DocumentKind
	Strategy         string
	Text             string
	Metadata         map[string]any
}

// Optimizer shrinks uploaded files before they are chunked and stored.
type Optimizer struct {
	extractor core.DocumentExtractor
	layout    pdfLayout
	log       *zap.Logger
}

func NewOptimizer(extractor core.DocumentExtractor, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{extractor: extractor, layout: defaultPDFLayout, log: log}
}

// Optimize extracts and normalizes inputPath and writes the smallest artifact
// the strategy list for its kind can produce. An empty outputPath selects
// DefaultOutputPath. declaredType is the upload's MIME type and may be empty.
func (o *Optimizer) Optimize(ctx context.Context, inputPath, outputPath, declaredType string) (*Result, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat input: %v", core.ErrOptimizationFailed, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", core.ErrOptimizationFailed, inputPath)
	}
	originalSize := info.Size()

	kind := o.extractor.DetectKind(inputPath, declaredType)
	if outputPath == "" {
		outputPath = DefaultOutputPath(inputPath, kind)
	}
	if filepath.Clean(outputPath) == filepath.Clean(inputPath) {
		return nil, fmt.Errorf("%w: output path equals input path", core.ErrOptimizationFailed)
	}

	var text string
	if kind != core.KindUnsupported {
		raw, err := o.extractor.Extract(ctx, inputPath, kind)
		if err != nil {
			if errors.Is(err, core.ErrExtractionFailed) {
				return nil, fmt.Errorf("%w: %w", core.ErrOptimizationFailed, err)
			}
			return nil, fmt.Errorf("%w: %w: %v", core.ErrOptimizationFailed, core.ErrExtractionFailed, err)
		}
		text = Normalize(raw)
	}

	strategy, size, err := RunStrategies(ctx, o.log, o.strategiesFor(kind), inputPath, outputPath, text, originalSize)
	if err != nil {
		return nil, err
	}

	res := &Result{
		OutputPath:       outputPath,
		OriginalSize:     originalSize,
		OptimizedSize:    size,
		ReductionPercent: ReductionPercent(originalSize, size),
		Kind:             kind,
		Strategy:         strategy.Name(),
		Text:             text,
		Metadata: map[string]any{
			"processing_method": strategy.Name(),
			"file_type":         strings.TrimPrefix(strings.ToLower(filepath.Ext(inputPath)), "."),
			"total_length":      utf8.RuneCountInString(text),
			"file_size":         originalSize,
		},
	}

	o.log.Debug("file optimized",
		zap.String("input", inputPath),
		zap.String("kind", string(kind)),
		zap.String("strategy", res.Strategy),
		zap.Int64("original_size", res.OriginalSize),
		zap.Int64("optimized_size", res.OptimizedSize),
		zap.Int("reduction_percent", res.ReductionPercent))

	return res, nil
}

// DefaultOutputPath inserts "-optimized" before the extension. Word documents
// become plain text, so their artifact takes a .txt extension.
func DefaultOutputPath(inputPath string, kind core.DocumentKind) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	if kind == core.KindWord {
		ext = ".txt"
	}
	return base + "-optimized" + ext
}

// ReductionPercent is the rounded share of bytes saved, 0 for empty sources.
func ReductionPercent(original, optimized int64) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round(float64(original-optimized) / float64(original) * 100))
}
