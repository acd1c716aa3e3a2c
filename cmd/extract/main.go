package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/wudi/pdfimages/catalog"
	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/extractor"
	"github.com/wudi/pdfimages/observability"
	"github.com/wudi/pdfimages/report"
)

type options struct {
	pdfPath  string
	password string
	jsonOut  bool
	verbose  bool
	cfg      config.File
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/extract [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "TOML config file")
	outDir := flag.String("out", config.DefaultOutputDir, "Output directory, or blob container with -blob")
	dim := flag.Int("dim", 0, "Minimum width and height in pixels")
	abs := flag.Int("abs", 0, "Minimum stored size in bytes")
	rel := flag.Float64("rel", 0, "Minimum stored size relative to width*height*components (0..1)")
	blob := flag.String("blob", "", "Azure storage connection string; stores images as blobs")
	password := flag.String("password", "", "Password to open encrypted PDFs")
	catalogPath := flag.String("catalog", "", "Record the run in this SQLite catalog")
	reportPath := flag.String("report", "", "Write a Markdown (.md) or HTML (.html) report")
	jsonOut := flag.Bool("json", false, "Print the result as JSON")
	verbose := flag.Bool("v", false, "Debug logging")
	logJSON := flag.Bool("log-json", false, "Log as JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return options{}, err
	}
	// Flags given explicitly override the file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Extraction.OutputDir = *outDir
		case "dim":
			cfg.Extraction.DimLimit = *dim
		case "abs":
			cfg.Extraction.AbsSize = *abs
		case "rel":
			cfg.Extraction.RelSize = *rel
		case "blob":
			cfg.Extraction.BlobConnectionString = *blob
		case "log-json":
			cfg.Log.JSON = *logJSON
		case "catalog":
			cfg.Catalog.Path = *catalogPath
		case "report":
			cfg.Report.Path = *reportPath
		}
	})
	if err := cfg.Extraction.Validate(); err != nil {
		return options{}, err
	}

	opts.pdfPath = flag.Arg(0)
	opts.password = *password
	opts.jsonOut = *jsonOut
	opts.verbose = *verbose
	opts.cfg = cfg
	return opts, nil
}

func newLogger(cfg config.LogConfig, verbose bool) observability.Logger {
	level := observability.ParseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if cfg.JSON {
		h = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	return observability.NewSlogLogger(slog.New(h))
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(opts.cfg.Log, opts.verbose)
	ext, err := extractor.New(opts.cfg.Extraction,
		extractor.WithLogger(logger),
		extractor.WithTracer(observability.NewOtelTracer()),
		extractor.WithPassword(opts.password),
	)
	if err != nil {
		return fmt.Errorf("new extractor: %w", err)
	}

	res, err := ext.ExtractAll(ctx, opts.pdfPath)
	if err != nil {
		return err
	}

	if opts.cfg.Catalog.Path != "" {
		id, err := recordRun(ctx, opts.cfg.Catalog.Path, res, logger)
		if err != nil {
			return err
		}
		logger.Info("run recorded", observability.String("run", id))
	}
	if opts.cfg.Report.Path != "" {
		if err := report.Write(opts.cfg.Report.Path, report.FromExtraction(res)); err != nil {
			return err
		}
	}

	if opts.jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Printf("%s\n", data)
		return nil
	}
	printSummary(res, opts.cfg.Extraction)
	return nil
}

func recordRun(ctx context.Context, path string, res *extractor.Result, logger observability.Logger) (string, error) {
	store, err := catalog.Open(path, catalog.WithLogger(logger))
	if err != nil {
		return "", err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return "", err
	}
	return store.RecordExtraction(ctx, res)
}

func printSummary(res *extractor.Result, cfg config.ExtractionConfig) {
	fmt.Printf("PDF:                 %s\n", res.PDFPath)
	fmt.Printf("Pages:               %d\n", res.TotalPages)
	fmt.Printf("Unique images found: %d\n", res.UniqueImagesFound)
	fmt.Printf("Images extracted:    %d\n", res.ImagesExtracted)
	fmt.Printf("Extraction time:     %.2fs\n", res.ExtractionTime.Seconds())
	if base := cfg.BaseURL(); base != "" {
		fmt.Printf("Base URL:            %s\n", base)
	} else {
		fmt.Printf("Output directory:    %s\n", res.OutputDirectory)
	}
	for _, f := range res.ExtractedFiles {
		fmt.Printf("  %s\n", f)
	}
}
