package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/markdave123-py/knowledge-ingest/internal/app"
	"github.com/markdave123-py/knowledge-ingest/internal/config"
	"github.com/markdave123-py/knowledge-ingest/internal/core"
	db "github.com/markdave123-py/knowledge-ingest/internal/core/database"
	"github.com/markdave123-py/knowledge-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/knowledge-ingest/internal/core/optimizer"
	"github.com/markdave123-py/knowledge-ingest/internal/logger"
	"github.com/markdave123-py/knowledge-ingest/internal/models"
)

var cli struct {
	LogLevel string `help:"Log level" default:"warn" env:"LOG_LEVEL"`

	Status   statusCmd   `cmd:"" help:"Show one knowledge file record."`
	Stuck    stuckCmd    `cmd:"" help:"List records stuck in a non-terminal status."`
	Reingest reingestCmd `cmd:"" help:"Reset a record to pending and schedule a new attempt."`
	Optimize optimizeCmd `cmd:"" help:"Run the file optimizer on a local file."`
	Chunk    chunkCmd    `cmd:"" help:"Print the chunk windows of a local file."`
}

type runEnv struct {
	ctx context.Context
	log *zap.Logger
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("knowctl"),
		kong.Description("Inspect and operate the knowledge ingestion pipeline."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, err := logger.Init(cli.LogLevel, "console")
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	defer func() { _ = logger.Sync() }()

	kctx.FatalIfErrorf(kctx.Run(&runEnv{ctx: ctx, log: log}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openRepository opens only the record store; status and stuck do not need
// the embedder or vector store.
func openRepository(env *runEnv) (core.KnowledgeRepository, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreBackend == "memory" {
		return nil, nil, fmt.Errorf("STORE_BACKEND=memory keeps records inside the API process; point knowctl at postgres")
	}
	sqlDB, err := db.Open(env.ctx, cfg, env.log)
	if err != nil {
		return nil, nil, err
	}
	repo, err := db.NewKnowledgeRepository(cfg, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return repo, func() { _ = sqlDB.Close() }, nil
}

type statusCmd struct {
	ID string `arg:"" help:"Knowledge file id."`
}

func (c *statusCmd) Run(env *runEnv) error {
	repo, closeRepo, err := openRepository(env)
	if err != nil {
		return err
	}
	defer closeRepo()

	f, err := repo.GetKnowledgeFile(env.ctx, c.ID)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("knowledge file %s: %w", c.ID, core.ErrNotFound)
	}
	return printJSON(f)
}

type stuckCmd struct {
	OlderThan time.Duration `help:"Minimum time since the last status change." default:"15m"`
}

func (c *stuckCmd) Run(env *runEnv) error {
	if c.OlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	repo, closeRepo, err := openRepository(env)
	if err != nil {
		return err
	}
	defer closeRepo()

	files, err := repo.ListStuckKnowledgeFiles(env.ctx, time.Now().Add(-c.OlderThan))
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Printf("%s\t%s\t%s\tgen=%d\tsince=%s\n",
			f.ID, f.ChatbotID, f.Status, f.Generation, f.StatusChangedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(os.Stderr, "%d stuck record(s)\n", len(files))
	return nil
}

type reingestCmd struct {
	ID      string        `arg:"" help:"Knowledge file id."`
	Wait    bool          `help:"Wait until the new attempt finishes. Always on with QUEUE_BACKEND=memory."`
	Timeout time.Duration `help:"How long to wait for the attempt." default:"15m"`
}

func (c *reingestCmd) Run(env *runEnv) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	a, err := app.NewApp(env.ctx, cfg, env.log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	f, err := a.Reingest(env.ctx, c.ID, c.Wait, c.Timeout)
	if err != nil {
		return err
	}
	if err := printJSON(f); err != nil {
		return err
	}
	if f.Status == models.StatusFailed {
		return fmt.Errorf("ingestion failed")
	}
	return nil
}

type optimizeCmd struct {
	Path        string `arg:"" type:"existingfile" help:"File to optimize."`
	Out         string `help:"Output path (default next to the input)."`
	ContentType string `help:"Declared MIME type."`
	Readability bool   `help:"Use readability when extracting HTML."`
}

type optimizeReport struct {
	OutputPath       string         `json:"outputPath"`
	Kind             string         `json:"kind"`
	Strategy         string         `json:"strategy"`
	OriginalSize     int64          `json:"originalSize"`
	OptimizedSize    int64          `json:"optimizedSize"`
	ReductionPercent int            `json:"reductionPercent"`
	TextRunes        int            `json:"textRunes"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

func (c *optimizeCmd) Run(env *runEnv) error {
	o := optimizer.NewOptimizer(optimizer.NewDocconvExtractor(c.Readability), env.log)
	res, err := o.Optimize(env.ctx, c.Path, c.Out, c.ContentType)
	if err != nil {
		return err
	}
	return printJSON(optimizeReport{
		OutputPath:       res.OutputPath,
		Kind:             string(res.Kind),
		Strategy:         res.Strategy,
		OriginalSize:     res.OriginalSize,
		OptimizedSize:    res.OptimizedSize,
		ReductionPercent: res.ReductionPercent,
		TextRunes:        len([]rune(res.Text)),
		Metadata:         res.Metadata,
	})
}

type chunkCmd struct {
	Path        string `arg:"" type:"existingfile" help:"File to chunk."`
	ContentType string `help:"Declared MIME type."`
	Size        int    `help:"Runes per chunk." default:"800"`
	Overlap     int    `help:"Runes shared by consecutive chunks." default:"100"`
}

type chunkPreview struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

func (c *chunkCmd) Run(env *runEnv) error {
	dir, err := os.MkdirTemp("", "knowctl-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	o := optimizer.NewOptimizer(optimizer.NewDocconvExtractor(false), env.log)
	res, err := o.Optimize(env.ctx, c.Path, filepath.Join(dir, "optimized"+filepath.Ext(c.Path)), c.ContentType)
	if err != nil {
		return err
	}

	segs := ingestion_engine.NewChunker(c.Size, c.Overlap).Preview(res.Text)
	out := make([]chunkPreview, 0, len(segs))
	for _, s := range segs {
		out = append(out, chunkPreview{Index: s.Index, Start: s.Start, End: s.End, Text: s.Text})
	}
	return printJSON(out)
}
