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
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/poiesic/curator"
	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/ai/openai"
	"github.com/poiesic/curator/config"
	"github.com/poiesic/curator/core"
	"github.com/poiesic/curator/search"
	"github.com/poiesic/curator/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "curator",
		Usage: "Index local digital assets and search them by text and meaning",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file (default ~/.curator/config.toml)",
			},
			&cli.StringFlag{
				Name:    "library",
				Aliases: []string{"L"},
				Usage:   "Library directory, overriding the configuration file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Ingest files and directories",
				ArgsUsage: "<path>...",
				Action:    importCommand,
			},
			{
				Name:      "search",
				Usage:     "Search the library",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: append(limitFlags(), &cli.StringSliceFlag{
					Name:  "tag",
					Usage: "Only return assets carrying this tag",
				}),
			},
			{
				Name:      "similar",
				Usage:     "Find assets that look like a stored asset",
				ArgsUsage: "<asset-id>",
				Action:    similarCommand,
				Flags: append(limitFlags(),
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Only return assets carrying this tag",
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Drop neighbours whose cosine similarity is below this value",
					},
				),
			},
			{
				Name:   "stats",
				Usage:  "Count assets by state",
				Action: statsCommand,
			},
			{
				Name:   "rebuild",
				Usage:  "Rebuild both indices from the metadata store",
				Action: rebuildCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Embed assets that have no vector yet",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Embed every asset again, e.g. after switching embedding models",
					},
				},
			},
			{
				Name:   "compact",
				Usage:  "Delete missing assets and compact both indices",
				Action: compactCommand,
			},
			{
				Name:      "watch",
				Usage:     "Ingest changes under directories as they happen",
				ArgsUsage: "<dir>...",
				Action:    watchCommand,
			},
			{
				Name:   "init",
				Usage:  "Write a default configuration file",
				Action: initCommand,
			},
		},
	}
}

// limitFlags are shared by the query commands.
func limitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum number of results",
			Value:   search.DefaultLimit,
		},
		&cli.StringSliceFlag{
			Name:  "kind",
			Usage: "Only return assets of this kind (image, 3d, audio, video, document, archive)",
		},
		&cli.StringFlag{
			Name:  "under",
			Usage: "Only return assets below this directory",
		},
	}
}

func filterFromFlags(c *cli.Context) (search.Filter, error) {
	filter := search.Filter{Tags: c.StringSlice("tag"), PathPrefix: c.String("under")}
	for _, k := range c.StringSlice("kind") {
		kind := core.Kind(strings.ToLower(k))
		if !kind.Valid() {
			return search.Filter{}, fmt.Errorf("unknown kind %q", k)
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	return filter, nil
}

func printHits(c *cli.Context, resp *search.Response) {
	out := c.App.Writer
	fmt.Fprintf(out, "Found %d hits\n", len(resp.Results))
	for i, hit := range resp.Results {
		fmt.Fprintf(out, "%d: '%s' (%d)[%0.3f]\n", i, hit.Path, hit.AssetID, hit.Score)
	}
	if resp.Partial {
		fmt.Fprintln(out, "results are partial: the search timed out")
	}
}

func configPath(c *cli.Context) (string, error) {
	if path := c.String("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path, err := configPath(c)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dir := c.String("library"); dir != "" {
		cfg.Library = dir
	}
	return cfg, nil
}

func openLibrary(c *cli.Context) (*curator.Library, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	dir, err := cfg.LibraryDir()
	if err != nil {
		return nil, err
	}

	opts := append(cfg.LibraryOptions(),
		curator.WithLogger(slog.Default()),
		curator.WithProgressOutput(c.App.ErrWriter),
	)
	if aiConfig := cfg.AIConfig(); aiConfig != nil {
		enricher, err := openai.NewEnricher(aiConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create enricher: %w", err)
		}
		opts = append(opts, curator.WithEnricher(ai.LimitedFromConfig(enricher, aiConfig)))
	}

	lib, err := curator.Open(dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	slog.Debug("library opened", "dir", dir, "enrichment", cfg.AI.Enabled)
	return lib, nil
}

func importCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one path is required")
	}
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	out := c.App.Writer
	for _, path := range c.Args().Slice() {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			report, err := lib.SubmitDirectory(c.Context, path)
			if err != nil {
				return fmt.Errorf("import of %s failed: %w", path, err)
			}
			fmt.Fprintf(out, "%s: %d submitted, %d completed, %d failed, %d duplicates, %d rejected, %d missing\n",
				report.Root, report.Submitted, report.Completed, report.Failed,
				report.Duplicates, report.Rejected, report.MarkedMissing)
			if report.Partial {
				fmt.Fprintf(out, "%s: interrupted; run import again to resume\n", report.Root)
			}
			continue
		}

		res, err := lib.Submit(c.Context, path)
		if err != nil {
			return fmt.Errorf("import of %s failed: %w", path, err)
		}
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "%s: failed: %v\n", res.Path, res.Err)
		case res.Duplicate:
			fmt.Fprintf(out, "%s: duplicate of asset %d\n", res.Path, res.AssetID)
		default:
			fmt.Fprintf(out, "%s: asset %d %s\n", res.Path, res.AssetID, res.State)
		}
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("a query is required")
	}
	filter, err := filterFromFlags(c)
	if err != nil {
		return err
	}

	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	resp, err := lib.Search(c.Context, search.Query{Text: text, Limit: c.Int("limit"), Filter: filter})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	printHits(c, resp)
	return nil
}

func similarCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one asset id is required")
	}
	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid asset id %q", c.Args().First())
	}
	filter, err := filterFromFlags(c)
	if err != nil {
		return err
	}

	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	resp, err := lib.Similar(c.Context, search.SimilarQuery{
		AssetID:  core.ID(id),
		Limit:    c.Int("limit"),
		MinScore: c.Float64("min-score"),
		Filter:   filter,
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("asset %d is not in the library", id)
	case errors.Is(err, search.ErrNoEmbedding):
		return fmt.Errorf("asset %d has no embedding yet; enable [ai] and run reembed", id)
	case err != nil:
		return fmt.Errorf("similarity search failed: %w", err)
	}
	printHits(c, resp)
	return nil
}

func statsCommand(c *cli.Context) error {
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	stats, err := lib.Stats(c.Context)
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Total assets:      %d\n", stats.TotalAssets)
	fmt.Fprintf(out, "Lexically indexed: %d\n", stats.LexicallyIndexed)
	fmt.Fprintf(out, "Vector indexed:    %d\n", stats.VectorIndexed)
	fmt.Fprintf(out, "Failed:            %d\n", stats.Failed)
	fmt.Fprintf(out, "Missing:           %d\n", stats.Missing)
	return nil
}

func rebuildCommand(c *cli.Context) error {
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	report, err := lib.Rebuild(c.Context)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Rebuilt %d assets: %d text, %d vectors, %d skipped\n",
		report.Records, report.TextIndexed, report.VectorIndexed, report.Skipped)
	return nil
}

func reembedCommand(c *cli.Context) error {
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	report, err := lib.Reembed(c.Context, c.Bool("all"))
	if errors.Is(err, curator.ErrEmbedderUnavailable) {
		return errors.New("reembedding needs enrichment: set enabled = true in the [ai] section")
	}
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Embedded %d of %d assets, %d skipped\n", report.Embedded, report.Records, report.Skipped)
	return nil
}

func compactCommand(c *cli.Context) error {
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	report, err := lib.Compact(c.Context)
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Purged %d missing assets\n", report.Purged)
	return nil
}

func watchCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one directory is required")
	}
	lib, err := openLibrary(c)
	if err != nil {
		return err
	}
	defer lib.Close()

	fmt.Fprintf(c.App.ErrWriter, "Watching %s (Ctrl-C to stop)\n", strings.Join(c.Args().Slice(), ", "))
	return lib.Watch(c.Context, c.Args().Slice()...)
}

func initCommand(c *cli.Context) error {
	path, err := configPath(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := config.Default()
	if dir := c.String("library"); dir != "" {
		cfg.Library = dir
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

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

	errWriter := c.App.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(errWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}
