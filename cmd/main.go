package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/metrics"
	"github.com/xhad/docseek/internal/types"
	cfgPkg "github.com/xhad/docseek/pkg/config"
	"github.com/xhad/docseek/pkg/engine"
	"github.com/xhad/docseek/pkg/extractor"
	"github.com/xhad/docseek/pkg/llm"
	"github.com/xhad/docseek/pkg/processor"
	"github.com/xhad/docseek/pkg/store"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCMD().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCMD() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "docseek",
		Short:         "Index PDF documents and search them by meaning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		indexCMD(opts),
		searchCMD(opts),
		queryCMD(opts),
		chatCMD(opts),
		statsCMD(opts),
		serveCMD(opts),
	)
	return root
}

// app holds the components built from the configuration.
type app struct {
	config  *cfgPkg.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   types.VectorStore
	engine  *engine.Engine
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	config, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.verbose {
		config.Log.Level = "debug"
	}
	if errs := config.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	log, err := logger.New(config.Log.Level, config.Log.Format)
	if err != nil {
		return nil, err
	}

	vectorStore, err := store.Open(ctx, store.Config{
		Driver:     config.Database.Driver,
		ConnString: config.Database.URL,
		Path:       config.Database.Path,
		TableName:  config.Database.TableName,
		VectorDim:  config.Database.VectorDim,
		Index:      config.Database.Index,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	gateway, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     config.Embedding.Model,
		BaseURL:   config.Embedding.BaseURL,
		BatchSize: config.Embedding.BatchSize,
		Dimension: config.Database.VectorDim,
		RateLimit: config.Embedding.RateLimit,
	})
	if err != nil {
		vectorStore.Close()
		return nil, err
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       config.LLM.Model,
		Temperature: config.LLM.Temperature,
		MaxTokens:   config.LLM.MaxTokens,
		TopP:        config.LLM.TopP,
		BaseURL:     config.LLM.BaseURL,
	})
	if err != nil {
		vectorStore.Close()
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    config.Processor.ChunkSize,
		ChunkOverlap: config.Processor.ChunkOverlap,
		Logger:       log,
	})

	m := metrics.New()
	eng := engine.New(extractor.New(log), &proc, gateway, vectorStore,
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithAnswerer(chatEngine),
		engine.WithDefaultTopK(config.Search.TopK),
	)

	return &app{
		config:  config,
		logger:  log,
		metrics: m,
		store:   vectorStore,
		engine:  eng,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// withApp builds the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(ctx, a)
	if errors.Is(err, context.Canceled) {
		color.Yellow("\nInterrupted")
		return nil
	}
	return err
}
