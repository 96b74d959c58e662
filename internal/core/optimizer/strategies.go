package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/core"
)

// Strategy produces one candidate optimized artifact at dst.
//
// src:  the original file, read-only.
// dst:  where the artifact must be written.
// text: normalized text of src (empty for unsupported kinds).
type Strategy interface {
	Name() string
	Write(ctx context.Context, src, dst, text string) error
}

// errLarger rejects artifacts that would grow the file.
var errLarger = errors.New("artifact larger than source")

type regeneratePDF struct{ layout pdfLayout }

func (regeneratePDF) Name() string { return "regenerate-pdf" }

func (s regeneratePDF) Write(ctx context.Context, _, dst, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeTextPDF(dst, text, s.layout)
}

type plainText struct{}

func (plainText) Name() string { return "plain-text" }

func (plainText) Write(ctx context.Context, _, dst, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(text), 0o644)
}

type copyVerbatim struct{}

func (copyVerbatim) Name() string { return "copy" }

func (copyVerbatim) Write(ctx context.Context, src, dst, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// strategiesFor returns the ordered fallback list for a document kind.
func (o *Optimizer) strategiesFor(kind core.DocumentKind) []Strategy {
	switch kind {
	case core.KindPDF:
		return []Strategy{regeneratePDF{layout: o.layout}, plainText{}, copyVerbatim{}}
	case core.KindWord, core.KindPlainText:
		return []Strategy{plainText{}, copyVerbatim{}}
	default:
		return []Strategy{copyVerbatim{}}
	}
}

// RunStrategies tries each strategy in order and keeps the first artifact
// that was written and is no larger than maxSize. It returns the winning
// strategy and the artifact size.
func RunStrategies(ctx context.Context, log *zap.Logger, strategies []Strategy, src, dst, text string, maxSize int64) (Strategy, int64, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var errs []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		err := s.Write(ctx, src, dst, text)
		if err == nil {
			var info os.FileInfo
			info, err = os.Stat(dst)
			if err == nil && info.Size() > maxSize {
				err = fmt.Errorf("%w: %d > %d bytes", errLarger, info.Size(), maxSize)
			}
			if err == nil {
				return s, info.Size(), nil
			}
		}

		log.Warn("optimization strategy failed, trying next",
			zap.String("strategy", s.Name()),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	_ = os.Remove(dst)
	return nil, 0, fmt.Errorf("%w: %w", core.ErrOptimizationFailed, errors.Join(errs...))
}
