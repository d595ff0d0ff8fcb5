package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/odyssey-erp/backoffice/cmd/reportctl/cli"
	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/export"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/jobs"
)

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		opts    cli.ReportOptions
		filters multiFlag
		queue   bool
	)
	flag.StringVar(&opts.Entity, "entity", "", "entity to query (see the catalogue)")
	flag.Var(&filters, "filter", "filter as key=value, repeatable; ranges take from..to")
	flag.StringVar(&opts.Sort, "sort", "", "sort field, optionally field:desc")
	flag.IntVar(&opts.Page, "page", 1, "page to print")
	flag.IntVar(&opts.PageSize, "size", 0, "page size (default from REPORT_PAGE_SIZE)")
	flag.StringVar(&opts.Export, "export", "", "export the full set as csv, xlsx or pdf")
	flag.StringVar(&opts.Out, "out", "", "export destination file (default stdout)")
	flag.BoolVar(&opts.Enqueue, "enqueue", false, "queue the export on the worker instead of running it")
	flag.BoolVar(&opts.JSONOutput, "json", false, "print the page as JSON")
	flag.BoolVar(&queue, "queue", false, "print export queue statistics and dropped exports, then exit")
	flag.Parse()
	opts.Filters = filters

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: load config: %v\n", err)
		return cli.ExitFailure
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var jobsCLI *cli.JobsCLI
	if opts.Enqueue || queue {
		jobsCLI, err = cli.NewJobsCLI(cfg.Redis().Asynq())
		if err != nil {
			fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
			return cli.ExitFailure
		}
		defer func() {
			_ = jobsCLI.Close()
		}()
	}
	if queue {
		if err := jobsCLI.PrintQueue(os.Stdout, 10); err != nil {
			fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
			return cli.ExitFailure
		}
		return cli.ExitOK
	}
	if opts.Entity == "" {
		flag.Usage()
		return cli.ExitUsage
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("reference cache disabled", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			_ = redisClient.Close()
		}()
	}
	engine, err := app.NewEngine(cfg, logger, redisClient, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		return cli.ExitFailure
	}

	var enqueuer jobs.Enqueuer
	if jobsCLI != nil {
		enqueuer = jobsCLI
	}
	runner, err := cli.NewReportCLI(engine.Screens, export.Renderer{PDF: export.NewPDFExporter(cfg.GotenbergURL)}, enqueuer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		return cli.ExitFailure
	}
	return runner.Run(ctx, opts)
}
