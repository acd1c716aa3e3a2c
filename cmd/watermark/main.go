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
	"github.com/wudi/pdfimages/observability"
	"github.com/wudi/pdfimages/report"
	"github.com/wudi/pdfimages/watermark"
)

type options struct {
	pdfPath  string
	output   string
	password string
	jsonOut  bool
	verbose  bool
	// outSet reports whether the extraction config came from flags or a file.
	outSet bool
	cfg    config.File
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "watermark: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "watermark: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/watermark [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "TOML config file")
	outDir := flag.String("out", "", "Image output directory (default: PDF name without extension)")
	dim := flag.Int("dim", 0, "Minimum width and height in pixels")
	abs := flag.Int("abs", 0, "Minimum stored size in bytes")
	rel := flag.Float64("rel", 0, "Minimum stored size relative to width*height*components (0..1)")
	blob := flag.String("blob", "", "Azure storage connection string; stores images as blobs")
	password := flag.String("password", "", "Password to open encrypted PDFs")
	fontSize := flag.Int("font-size", 12, "Label font size in points")
	format := flag.String("format", string(config.FormatFilename), "Label text: filename, filepath, custom or script")
	expr := flag.String("expr", "", "JavaScript label expression for -format script")
	padding := flag.Int("padding", 4, "Padding around label text in points")
	output := flag.String("o", "", "Annotated PDF path (default: <name>_watermarked.pdf)")
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
	opts.pdfPath = flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return options{}, err
	}
	// Without -out or a config file the watermarker names the directory after the PDF.
	opts.outSet = *configPath != "" || os.Getenv("PDFIMAGES_OUTPUT_DIR") != ""
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Extraction.OutputDir = *outDir
			opts.outSet = true
		case "dim":
			cfg.Extraction.DimLimit = *dim
		case "abs":
			cfg.Extraction.AbsSize = *abs
		case "rel":
			cfg.Extraction.RelSize = *rel
		case "blob":
			cfg.Extraction.BlobConnectionString = *blob
		case "font-size":
			cfg.Watermark.FontSize = *fontSize
		case "format":
			cfg.Watermark.TextFormat = config.TextFormat(*format)
		case "expr":
			cfg.Watermark.Expression = *expr
		case "padding":
			cfg.Watermark.Padding = *padding
		case "log-json":
			cfg.Log.JSON = *logJSON
		case "catalog":
			cfg.Catalog.Path = *catalogPath
		case "report":
			cfg.Report.Path = *reportPath
		}
	})
	if !opts.outSet {
		cfg.Extraction.OutputDir = watermark.Stem(opts.pdfPath)
	}
	if err := cfg.Extraction.Validate(); err != nil {
		return options{}, err
	}
	if err := cfg.Watermark.Validate(); err != nil {
		return options{}, err
	}

	opts.output = *output
	if opts.output == "" {
		opts.output = watermark.DefaultOutputPath(opts.pdfPath)
	}
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
	wm, err := watermark.New(opts.pdfPath,
		watermark.WithLogger(logger),
		watermark.WithTracer(observability.NewOtelTracer()),
		watermark.WithExtraction(opts.cfg.Extraction),
		watermark.WithWatermark(opts.cfg.Watermark),
		watermark.WithPassword(opts.password),
	)
	if err != nil {
		return err
	}

	res, err := wm.Process(ctx)
	if err != nil {
		return err
	}
	defer res.Output.Close()
	if err := res.Output.Save(opts.output); err != nil {
		return err
	}
	logger.Info("annotated pdf saved", observability.String("path", opts.output))

	if opts.cfg.Catalog.Path != "" {
		store, err := catalog.Open(opts.cfg.Catalog.Path, catalog.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return err
		}
		if _, err := store.RecordWatermark(ctx, res); err != nil {
			return err
		}
	}
	if opts.cfg.Report.Path != "" {
		if err := report.Write(opts.cfg.Report.Path, report.FromWatermark(res, opts.output)); err != nil {
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

	fmt.Printf("Original PDF:       %s\n", res.OriginalPDF)
	fmt.Printf("Watermarked PDF:    %s\n", opts.output)
	fmt.Printf("Pages processed:    %d\n", res.TotalPages)
	fmt.Printf("Images extracted:   %d\n", res.ImagesExtracted)
	fmt.Printf("Images watermarked: %d\n", res.ImagesWatermarked)
	fmt.Printf("Processing time:    %.2fs\n", res.ProcessingTime.Seconds())
	if res.BaseURL != "" {
		fmt.Printf("Images saved to:    %s\n", res.BaseURL)
	} else {
		fmt.Printf("Images saved to:    %s/\n", res.OutputDirectory)
	}
	if res.ImagesExtracted == 0 {
		fmt.Println("No images were found in the PDF")
	}
	return nil
}
