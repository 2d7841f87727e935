package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "graph-ingest: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "graph-ingest",
		Usage: "Load Stack Overflow questions and Knesset laws into a graph with vector indexes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override LOG_LEVEL (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override LOG_FORMAT (console, json)",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Override STORE_BACKEND (neo4j, postgres, memory)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Write to an in-memory graph instead of the configured store",
			},
		},
		Before: setup,
		After:  teardown,
		Commands: []*cli.Command{
			{
				Name:   "import",
				Usage:  "Import pages of answered questions for a tag",
				Action: importForumCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "tag",
						Aliases: []string{"t"},
						Usage:   "Tag to import (defaults to DEFAULT_TAG)",
					},
					&cli.IntFlag{
						Name:    "pages",
						Aliases: []string{"n"},
						Usage:   "Number of pages of 100 questions",
						Value:   1,
					},
					&cli.IntFlag{
						Name:  "start-page",
						Usage: "First page to request",
						Value: 1,
					},
				},
			},
			{
				Name:   "import-top",
				Usage:  "Import the highest voted questions with their answers",
				Action: importTopCommand,
			},
			{
				Name:   "import-laws",
				Usage:  "Import a range of laws with their amendments",
				Action: importLawsCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "from",
						Usage: "First legislative id (defaults to DEFAULT_LAW_FROM)",
					},
					&cli.Int64Flag{
						Name:  "to",
						Usage: "Last legislative id (defaults to DEFAULT_LAW_TO)",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the import API, statistics and metrics over HTTP",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "Override WEB_PORT",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print node and relationship counts",
				Action: statsCommand,
			},
			{
				Name:   "search",
				Usage:  "Find the nodes closest to a text through a vector index",
				Action: searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Text to embed and search for",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "index",
						Usage: "Vector index (stackoverflow or top_answers)",
						Value: "stackoverflow",
					},
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of neighbours",
						Value: 5,
					},
				},
			},
		},
	}
}
