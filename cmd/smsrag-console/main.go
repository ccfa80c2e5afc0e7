package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"smsrag/internal/app"
	"smsrag/internal/common"
	"smsrag/internal/config"
	"smsrag/internal/service"
	"smsrag/internal/tui"
	"smsrag/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/smsrag/config.yaml if not provided)")
	flag.Parse()

	if err := run(cfgPath, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(cfgPath string, inputs []string) error {
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyEnv(cfg, os.LookupEnv)
	// console output would garble the terminal UI
	cfg.Logging.Output = []string{"file"}

	logger := common.NewLogger(cfg.Logging)
	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Close()

	summary, err := ingestFiles(ctx, application.Ingestor, expandInputs(inputs))
	if err != nil {
		return err
	}

	total, err := application.Store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	header := fmt.Sprintf("%d documents stored (%s) | %s + %s",
		total, summary, application.Embedder.Name(), application.Generator.Name())

	m := tui.New(ctx, application.Pipeline, header)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return nil
}

func expandInputs(inputs []string) []string {
	var paths []string
	for _, p := range inputs {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		paths = append(paths, matches...)
	}
	return paths
}

type ingestSummary struct {
	files   int
	chunks  int
	skipped []string
}

func (s ingestSummary) String() string {
	out := fmt.Sprintf("%d chunks from %d files this session", s.chunks, s.files)
	if len(s.skipped) > 0 {
		out += fmt.Sprintf(", %d already ingested", len(s.skipped))
	}
	return out
}

// ingestFiles stores every file. A file whose first chunk id is already
// taken was ingested by an earlier run against the same store and is
// skipped.
func ingestFiles(ctx context.Context, ingestor *service.Ingestor, paths []string) (ingestSummary, error) {
	var summary ingestSummary
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return summary, fmt.Errorf("read %s: %w", p, err)
		}
		res, err := ingestor.Ingest(ctx, filepath.Base(p), string(data))
		if errors.Is(err, vectorstore.ErrDuplicateID) && len(res.IDs) == 0 {
			summary.skipped = append(summary.skipped, p)
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("ingest %s: %w", p, err)
		}
		summary.files++
		summary.chunks += len(res.IDs)
	}
	return summary, nil
}
