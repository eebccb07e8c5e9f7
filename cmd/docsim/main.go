// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/docsim"
	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/chunker"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/ingestion"
	"github.com/poiesic/docsim/reembed"
	"github.com/urfave/cli/v2"
)

// extraOptions are appended to the options of every opened database.
var extraOptions []docsim.DatabaseOption

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docsim",
		Usage: "Semantic search and similarity over text documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Chunk, store and embed text files",
				ArgsUsage: "FILE...",
				Action:    addCommand,
				Flags:     databaseFlags(),
			},
			{
				Name:      "search",
				Usage:     "Find the chunks most similar to a query",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags:     append(databaseFlags(), countFlag()),
			},
			{
				Name:      "compare",
				Usage:     "Find the chunks most similar to a stored chunk",
				ArgsUsage: "CHUNK_ID",
				Action:    compareCommand,
				Flags:     append(databaseFlags(), countFlag()),
			},
			{
				Name:      "words",
				Usage:     "Find chunks containing every word of a query",
				ArgsUsage: "QUERY",
				Action:    wordsCommand,
				Flags:     append(databaseFlags(), countFlag()),
			},
			{
				Name:   "sources",
				Usage:  "List sources, newest first",
				Action: sourcesCommand,
				Flags:  append(databaseFlags(), pageFlags()...),
			},
			{
				Name:   "chunks",
				Usage:  "List chunks",
				Action: chunksCommand,
				Flags:  append(databaseFlags(), pageFlags()...),
			},
			{
				Name:      "delete",
				Usage:     "Delete a source, its chunks and their vectors",
				ArgsUsage: "SOURCE_ID",
				Action:    deleteCommand,
				Flags:     databaseFlags(),
			},
			{
				Name:   "reembed",
				Usage:  "Embed sources left unsaved by failed ingestion",
				Action: reembedCommand,
				Flags: append(databaseFlags(),
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Reembed every source, not only unsaved ones",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Maximum number of chunks embedded per call",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N sources",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per batch",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
			{
				Name:   "stats",
				Usage:  "List embedding API usage, newest first",
				Action: statsCommand,
				Flags:  append(databaseFlags(), pageFlags()...),
			},
		},
	}
}

func databaseFlags() []cli.Flag {
	defaults := ai.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: defaults.EmbeddingHost,
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: defaults.EmbeddingModel,
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Embedding service API key",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
		&cli.IntFlag{
			Name:  "dimension",
			Usage: "Embedding vector dimension",
			Value: defaults.Dimension,
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Maximum chunk size in characters",
			Value: chunker.DefaultMaxChunkSize,
		},
	}
}

func countFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "count",
		Aliases: []string{"n"},
		Usage:   "Number of results",
		Value:   10,
	}
}

func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Page size",
			Value: 20,
		},
		&cli.Uint64Flag{
			Name:  "cursor",
			Usage: "Cursor printed by the previous page",
		},
	}
}

func openDatabase(c *cli.Context) (*docsim.Database, error) {
	aiConfig := ai.NewConfig(
		ai.WithAPIKey(c.String("api-key")),
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithDimension(c.Int("dimension")),
	)

	opts := []docsim.DatabaseOption{
		docsim.WithAIConfig(aiConfig),
		docsim.WithChunkSize(c.Int("chunk-size")),
	}
	db, err := docsim.NewDatabase(c.String("db"), append(opts, extraOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func parseID(c *cli.Context, what string) (core.ID, error) {
	arg := c.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("%s is required", what)
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, arg, err)
	}
	return core.ID(id), nil
}

func queryText(c *cli.Context) (string, error) {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return query, nil
}

// snippet shortens text to a single line of at most 72 characters.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > 72 {
		return string(runes[:69]) + "..."
	}
	return text
}

func printMatches(c *cli.Context, matches []core.ChunkMatch) {
	if len(matches) == 0 {
		fmt.Fprintln(c.App.Writer, "No matches")
		return
	}
	for _, m := range matches {
		fmt.Fprintf(c.App.Writer, "%.4f  %d  %s:%d-%d  %s\n",
			m.Score, m.Chunk.Id, m.SourceName, m.Chunk.Lines.From, m.Chunk.Lines.To, snippet(m.Chunk.Text))
	}
}

func addCommand(c *cli.Context) error {
	ctx := context.Background()
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	batch := make([]ingestion.Document, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		pieces, err := db.Chunker().Chunk(string(data))
		if err != nil {
			return fmt.Errorf("failed to chunk %s: %w", path, err)
		}
		if len(pieces) == 0 {
			slog.Warn("skipping empty file", "path", path)
			continue
		}
		batch = append(batch, ingestion.Document{Name: filepath.Base(path), Pieces: pieces})
	}
	if len(batch) == 0 {
		return fmt.Errorf("no text to add")
	}

	added, err := db.Pipeline().AddBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to add sources: %w", err)
	}
	db.Wait()

	for _, source := range added {
		saved, err := db.SourceRepository().GetSource(ctx, source.Id)
		if err != nil {
			return err
		}
		status := "saved"
		if !saved.Saved {
			status = "unsaved (run reembed to retry)"
		}
		fmt.Fprintf(c.App.Writer, "%d  %s  %d chunks  %d tokens  %s\n",
			saved.Id, saved.Name, len(saved.ChunkIds), saved.TotalTokens, status)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()
	query, err := queryText(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.Searcher().UpsertSearch(ctx, query, c.Int("count"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	db.Wait()

	matches, err := db.Searcher().Search(ctx, id)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return printSearch(c, id, matches, c.Int("count"))
}

// printSearch prints up to count matches of search id. Nil matches mean the
// search is still pending.
func printSearch(c *cli.Context, id core.ID, matches []core.ChunkMatch, count int) error {
	if matches == nil {
		return fmt.Errorf("search %d is still pending", id)
	}
	if len(matches) > count {
		matches = matches[:count]
	}
	fmt.Fprintf(c.App.Writer, "Search %d\n", id)
	printMatches(c, matches)
	return nil
}

func compareCommand(c *cli.Context) error {
	ctx := context.Background()
	target, err := parseID(c, "chunk id")
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.Searcher().UpsertComparison(ctx, target, c.Int("count"))
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}
	db.Wait()

	view, err := db.Searcher().Comparison(ctx, id)
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}
	if view == nil {
		return fmt.Errorf("comparison %d is still pending", id)
	}

	if view.Target != nil {
		fmt.Fprintf(c.App.Writer, "Chunk %d of %s: %s\n", target, view.Target.SourceName, snippet(view.Target.Chunk.Text))
	}
	related := view.Related
	if len(related) > c.Int("count") {
		related = related[:c.Int("count")]
	}
	printMatches(c, related)
	return nil
}

func wordsCommand(c *cli.Context) error {
	ctx := context.Background()
	query, err := queryText(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	matches, err := db.Searcher().WordSearch(ctx, query, c.Int("count"))
	if err != nil {
		return fmt.Errorf("word search failed: %w", err)
	}
	printMatches(c, matches)
	return nil
}

func printCursor(c *cli.Context, next core.ID) {
	if next != 0 {
		fmt.Fprintf(c.App.Writer, "Next page: --cursor %d\n", next)
	}
}

func sourcesCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	summaries, next, err := db.SourceRepository().ListSources(context.Background(), core.ID(c.Uint64("cursor")), c.Int("limit"))
	if err != nil {
		return err
	}
	for _, s := range summaries {
		status := "saved"
		if !s.Source.Saved {
			status = "unsaved"
		}
		fmt.Fprintf(c.App.Writer, "%d  %s  %d chunks  %d tokens  %dms  %s  %s\n",
			s.Source.Id, s.Source.Name, len(s.Source.ChunkIds), s.Source.TotalTokens,
			s.Source.EmbeddingMs, status, snippet(s.FirstChunkText))
	}
	printCursor(c, next)
	return nil
}

func chunksCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	chunks, next, err := db.SourceRepository().ListChunks(context.Background(), core.ID(c.Uint64("cursor")), c.Int("limit"))
	if err != nil {
		return err
	}
	for _, m := range chunks {
		fmt.Fprintf(c.App.Writer, "%d  %s #%d  lines %d-%d  %d tokens  %s\n",
			m.Chunk.Id, m.SourceName, m.Chunk.ChunkIndex, m.Chunk.Lines.From, m.Chunk.Lines.To,
			m.Chunk.Tokens, snippet(m.Chunk.Text))
	}
	printCursor(c, next)
	return nil
}

func deleteCommand(c *cli.Context) error {
	id, err := parseID(c, "source id")
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	deleted, err := db.Pipeline().DeleteSource(context.Background(), id)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	db.Wait()
	fmt.Fprintf(c.App.Writer, "Deleted %d  %s  %d chunks\n", deleted.Id, deleted.Name, len(deleted.ChunkIds))
	return nil
}

func reembedCommand(c *cli.Context) error {
	config := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		All:            c.Bool("all"),
	}

	// Validate config
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	reembedder, err := db.NewReembedder(config, c.App.ErrWriter)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", c.String("db"))
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", c.String("embedding-host"))
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", c.String("embedding-model"))
	fmt.Fprintln(c.App.ErrWriter)

	if _, err := reembedder.Run(context.Background()); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, next, err := db.StatsRepository().ListEmbeddingStats(context.Background(), core.ID(c.Uint64("cursor")), c.Int("limit"))
	if err != nil {
		return err
	}
	for _, s := range stats {
		fmt.Fprintf(c.App.Writer, "%d  %s  %d texts  %d chars  %d tokens  %dms\n",
			s.Id, s.CreatedAt.Format(time.RFC3339), s.NumTexts, s.TotalLength, s.TotalTokens, s.ElapsedMs)
	}
	printCursor(c, next)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
