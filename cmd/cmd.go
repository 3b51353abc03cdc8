package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/docseek/pkg/engine"
	"github.com/xhad/docseek/pkg/scraper"
	"github.com/xhad/docseek/server"
)

func indexCMD(opts *rootOptions) *cobra.Command {
	var docsURL string
	var index = &cobra.Command{
		Use:   "index [path|dir|glob]...",
		Short: "Index PDF files, directories of PDFs or PDFs linked from a website",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && docsURL == "" {
				return fmt.Errorf("give at least one path or --url")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				paths := args
				if docsURL != "" {
					downloaded, err := crawl(ctx, a, docsURL)
					if err != nil {
						return err
					}
					paths = append(paths, downloaded...)
				}
				return runIndex(ctx, a, paths)
			})
		},
	}
	index.Flags().StringVar(&docsURL, "url", "", "website or PDF URL to download documents from")
	return index
}

func crawl(ctx context.Context, a *app, docsURL string) ([]string, error) {
	if !strings.HasPrefix(docsURL, "http") {
		docsURL = "https://" + docsURL
	}

	var fetched int32
	spinner := getSpinner(" Looking for documents...")
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:        docsURL,
		MaxDepth:       a.config.Scraper.MaxDepth,
		RateLimit:      a.config.Scraper.RateLimit,
		IgnorePatterns: a.config.Scraper.IgnorePatterns,
		Timeout:        a.config.Scraper.Timeout,
		DownloadDir:    a.config.Scraper.DownloadDir,
		Logger:         a.logger,
		OnProgress: func(url string) {
			n := atomic.AddInt32(&fetched, 1)
			spinner.Describe(color.CyanString(" Fetched %d URLs", n))
			spinner.Add(1)
		},
	})
	if err != nil {
		spinner.Finish()
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	paths, err := s.Crawl(ctx)
	spinner.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to crawl %s: %w", docsURL, err)
	}
	color.Green("\n✓ Downloaded %d documents", len(paths))
	return paths, nil
}

func runIndex(ctx context.Context, a *app, paths []string) error {
	files, err := engine.ExpandPaths(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		color.Yellow("No PDF files found")
		return nil
	}

	bar := getProgressBar(len(files), " Indexing documents")
	var lines []string
	results, err := a.engine.IndexFiles(ctx, files, func(r engine.IndexResult) {
		lines = append(lines, statusLine(r))
		bar.Add(1)
	})
	bar.Finish()
	fmt.Println()

	for _, line := range lines {
		fmt.Println(line)
	}
	fmt.Println(summarize(results))
	return err
}

func searchCMD(opts *rootOptions) *cobra.Command {
	var topK int
	var asJSON bool
	var search = &cobra.Command{
		Use:   "search <query>",
		Short: "Show the chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				results, err := a.engine.SearchQuery(ctx, strings.Join(args, " "), topK)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				if asJSON {
					return printResultsJSON(cmd.OutOrStdout(), results)
				}
				printResults(cmd.OutOrStdout(), results)
				return nil
			})
		},
	}
	search.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	search.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return search
}

func queryCMD(opts *rootOptions) *cobra.Command {
	var topK int
	var stream bool
	var query = &cobra.Command{
		Use:   "query <prompt>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("stream") {
					stream = a.config.LLM.Streaming
				}
				return answer(ctx, a, strings.Join(args, " "), topK, stream)
			})
		},
	}
	query.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages given to the model")
	query.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	return query
}

// answer runs one question through the engine and prints the answer and
// the documents it drew on.
func answer(ctx context.Context, a *app, question string, topK int, stream bool) error {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	spinner := getSpinner(" Thinking...")
	firstChunk := true

	var onChunk func(string)
	if stream {
		onChunk = func(chunk string) {
			// Clear spinner on first chunk
			if firstChunk {
				spinner.Finish()
				firstChunk = false
				fmt.Print("\n")
				assistantPrompt("Assistant: ")
			}
			fmt.Print(chunk)
		}
	}

	response, sources, err := a.engine.AskStream(ctx, question, topK, onChunk)
	if firstChunk {
		spinner.Finish()
	}
	if err != nil {
		return err
	}

	if stream && !firstChunk {
		fmt.Print("\n")
	} else {
		assistantPrompt("\nAssistant: %s\n", response)
	}

	seen := map[string]bool{}
	var names []string
	for _, s := range sources {
		if !seen[s.Metadata.FileHash] {
			seen[s.Metadata.FileHash] = true
			names = append(names, s.Metadata.FileName)
		}
	}
	if len(names) > 0 {
		color.HiBlack("Sources: %s", strings.Join(names, ", "))
	}
	return nil
}

func chatCMD(opts *rootOptions) *cobra.Command {
	var topK int
	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				// Interactive chat loop with colored output
				color.Cyan("\nChat with your documents (type 'exit' to quit)")

				scanner := bufio.NewScanner(os.Stdin)
				userPrompt := color.New(color.FgGreen).PrintfFunc()

				for {
					userPrompt("\nYou: ")
					if !scanner.Scan() {
						break
					}

					question := strings.TrimSpace(scanner.Text())
					if strings.ToLower(question) == "exit" {
						break
					}
					if question == "" {
						continue
					}

					if err := answer(ctx, a, question, topK, a.config.LLM.Streaming); err != nil {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						color.Red("Error: %v\n", err)
					}
				}
				return scanner.Err()
			})
		},
	}
	chat.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages given to the model")
	return chat
}

func statsCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many chunks are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.engine.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "driver: %s\nchunks: %d\n", a.config.Database.Driver, n)
				return nil
			})
		},
	}
}

func serveCMD(opts *rootOptions) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Serve search and answers over a websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				addr := a.config.Server.Addr
				if serveAddr != "" {
					addr = serveAddr
				}
				s := server.NewWSServer(a.engine, server.Config{
					Addr:      addr,
					Streaming: a.config.LLM.Streaming,
					Logger:    a.logger,
					Metrics:   a.metrics,
				})
				return s.ListenAndServe(ctx)
			})
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	return serve
}
