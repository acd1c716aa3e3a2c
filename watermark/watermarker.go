// Package watermark extracts the images of a PDF and stamps each painted
// image with the name it was stored under.
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/coords"
	"github.com/wudi/pdfimages/extractor"
	"github.com/wudi/pdfimages/fonts"
	"github.com/wudi/pdfimages/observability"
	"github.com/wudi/pdfimages/pdfdoc"
	"github.com/wudi/pdfimages/scripting"
	"github.com/wudi/pdfimages/storage"
)

// ErrNoSource is returned when the PDF path does not exist and no contents were supplied.
var ErrNoSource = errors.New("pdf file does not exist and no file contents provided")

// Document is the engine surface the watermarker needs.
type Document interface {
	extractor.Document
	ImageRects(ctx context.Context, page int) (map[int][]coords.Rect, error)
	AddLabels(page int, labels []pdfdoc.Label) error
	Write(w io.Writer) error
	Save(path string) error
}

// Opener opens the source PDF; data is nil when reading from path.
type Opener func(path string, data []byte) (Document, error)

type options struct {
	logger     observability.Logger
	tracer     observability.Tracer
	extraction *config.ExtractionConfig
	watermark  config.WatermarkConfig
	data       []byte
	password   string
	opener     Opener
	measurer   fonts.Measurer
	storeOpt   []storage.Option
}

type Option func(*options)

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

func WithTracer(t observability.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithExtraction replaces the default extraction config, which has no
// filters and writes below a directory named after the PDF.
func WithExtraction(cfg config.ExtractionConfig) Option {
	return func(o *options) { o.extraction = &cfg }
}

func WithWatermark(cfg config.WatermarkConfig) Option { return func(o *options) { o.watermark = cfg } }

// WithContents supplies the PDF bytes; they take precedence over the path.
func WithContents(data []byte) Option { return func(o *options) { o.data = data } }

func WithPassword(pw string) Option { return func(o *options) { o.password = pw } }

func WithOpener(op Opener) Option { return func(o *options) { o.opener = op } }

// WithMeasurer sets how label text is measured. Defaults to Go Regular.
func WithMeasurer(m fonts.Measurer) Option { return func(o *options) { o.measurer = m } }

func WithStorageOptions(opts ...storage.Option) Option {
	return func(o *options) { o.storeOpt = append(o.storeOpt, opts...) }
}

// Result summarises a Process run. Output is still open: the caller writes
// and closes it.
type Result struct {
	OriginalPDF       string        `json:"original_pdf"`
	Output            Document      `json:"-"`
	TotalPages        int           `json:"total_pages"`
	ImagesExtracted   int           `json:"images_extracted"`
	ImagesWatermarked int           `json:"images_watermarked"`
	ProcessingTime    time.Duration `json:"-"`
	OutputDirectory   string        `json:"output_directory"`
	BaseURL           string        `json:"base_url,omitempty"`
	Entries           []Entry       `json:"images"`
}

// MarshalJSON reports the processing time in seconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		ProcessingTime float64 `json:"processing_time"`
	}{plain(r), r.ProcessingTime.Seconds()})
}

// Watermarker extracts images like extractor.Extractor and labels the ones
// it can locate on the page. It is not safe for concurrent use.
type Watermarker struct {
	pdfPath  string
	data     []byte
	ext      *extractor.Extractor
	cfg      config.WatermarkConfig
	logger   observability.Logger
	tracer   observability.Tracer
	opener   Opener
	measurer fonts.Measurer
	engine   *scripting.GojaEngine
	entries  []Entry
	rects    map[int]map[int][]coords.Rect
}

// New prepares a watermarker for the PDF at pdfPath.
func New(pdfPath string, opts ...Option) (*Watermarker, error) {
	o := options{
		logger:    observability.NopLogger{},
		tracer:    observability.NopTracer(),
		watermark: config.DefaultWatermark(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(o.data) == 0 {
		if pdfPath == "" {
			return nil, ErrNoSource
		}
		if _, err := os.Stat(pdfPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSource, pdfPath)
		}
	}
	if err := o.watermark.Validate(); err != nil {
		return nil, err
	}

	ecfg := config.ExtractionConfig{OutputDir: Stem(pdfPath)}
	if ecfg.OutputDir == "" {
		ecfg.OutputDir = config.DefaultOutputDir
	}
	if o.extraction != nil {
		ecfg = *o.extraction
	}
	ext, err := extractor.New(ecfg,
		extractor.WithLogger(o.logger),
		extractor.WithTracer(o.tracer),
		extractor.WithStorageOptions(o.storeOpt...),
	)
	if err != nil {
		return nil, err
	}

	w := &Watermarker{
		pdfPath:  pdfPath,
		data:     o.data,
		ext:      ext,
		cfg:      o.watermark,
		logger:   o.logger,
		tracer:   o.tracer,
		opener:   o.opener,
		measurer: o.measurer,
	}
	if w.measurer == nil {
		w.measurer = fonts.Default()
	}
	if w.opener == nil {
		pw, logger := o.password, o.logger
		w.opener = func(path string, data []byte) (Document, error) {
			popts := []pdfdoc.Option{pdfdoc.WithPassword(pw), pdfdoc.WithLogger(logger), pdfdoc.WithMode(pdfdoc.ModeWatermark)}
			var (
				doc *pdfdoc.Document
				err error
			)
			if len(data) > 0 {
				doc, err = pdfdoc.OpenBytes(data, popts...)
			} else {
				doc, err = pdfdoc.Open(path, popts...)
			}
			if err != nil {
				return nil, err
			}
			return doc, nil
		}
	}
	if w.cfg.TextFormat == config.FormatScript {
		if err := scripting.Compile(w.cfg.Expression); err != nil {
			return nil, fmt.Errorf("%w: expression: %v", config.ErrInvalidConfig, err)
		}
		w.engine = scripting.NewEngine()
	}
	return w, nil
}

// Stem is the file name of path without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DefaultOutputPath is <stem>_watermarked.pdf in the working directory.
func DefaultOutputPath(pdfPath string) string {
	stem := Stem(pdfPath)
	if stem == "" {
		stem = "document"
	}
	return stem + "_watermarked.pdf"
}

func (w *Watermarker) Extractor() *extractor.Extractor { return w.ext }

func (w *Watermarker) Config() config.WatermarkConfig { return w.cfg }

// Entries lists the images tracked by the last Process run.
func (w *Watermarker) Entries() []Entry { return append([]Entry(nil), w.entries...) }

func (w *Watermarker) pageRects(ctx context.Context, doc Document, page int) (map[int][]coords.Rect, error) {
	if r, ok := w.rects[page]; ok {
		return r, nil
	}
	r, err := doc.ImageRects(ctx, page)
	if err != nil {
		return nil, err
	}
	if w.rects == nil {
		w.rects = make(map[int]map[int][]coords.Rect)
	}
	w.rects[page] = r
	return r, nil
}

// ExtractAndTrack recovers, filters and stores one image of the 0-based
// page and locates it. A nil entry means the image was filtered out or is
// not painted on the page; such images are not marked as extracted.
func (w *Watermarker) ExtractAndTrack(ctx context.Context, doc Document, page int, meta extractor.ImageMetadata) (*Entry, error) {
	log := w.logger.With(observability.Page(page+1), observability.Xref(meta.Xref))

	img, err := extractor.Recover(doc, meta, w.logger)
	if err != nil {
		return nil, fmt.Errorf("recover image: %w", err)
	}
	if !w.ext.ShouldExtract(meta, img) {
		log.Warn("filtered out image")
		return nil, nil
	}

	filename := extractor.Filename(meta.Xref, img.Ext)
	location, err := w.ext.Store(ctx, page+1, filename, img.Data)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", filename, err)
	}
	log.Info("stored image", observability.String("file", filename), observability.String("location", location), observability.Int("bytes", len(img.Data)))

	rects, err := w.pageRects(ctx, doc, page)
	if err != nil {
		return nil, fmt.Errorf("locate image: %w", err)
	}
	placed := rects[meta.Xref]
	if len(placed) == 0 {
		log.Warn("no coordinates found for image")
		return nil, nil
	}
	bbox := placed[0]
	log.Debug("found coordinates",
		observability.Float64("x", bbox.X0), observability.Float64("y", bbox.Y0),
		observability.Float64("w", bbox.Width()), observability.Float64("h", bbox.Height()))

	w.ext.MarkExtracted(meta.Xref)
	return &Entry{
		Filepath: location,
		Filename: filename,
		Page:     page + 1,
		Xref:     meta.Xref,
		Width:    meta.Width,
		Height:   meta.Height,
		BBox:     bbox,
	}, nil
}

// ExtractPage tracks every extractable image of the 0-based page.
func (w *Watermarker) ExtractPage(ctx context.Context, doc Document, page int) ([]Entry, error) {
	candidates, _, err := w.ext.Candidates(doc, page)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, meta := range candidates {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		entry, err := w.ExtractAndTrack(ctx, doc, page, meta)
		if err != nil {
			w.logger.Error("extract image failed", observability.Page(page+1), observability.Xref(meta.Xref), observability.Err(err))
			continue
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (w *Watermarker) labelText(ctx context.Context, e Entry) string {
	if w.cfg.TextFormat != config.FormatScript || w.engine == nil {
		return e.Text(w.cfg.TextFormat)
	}
	text, err := w.engine.Label(ctx, w.cfg.Expression, e.vars())
	if err != nil {
		w.logger.Warn("label expression failed, using filename", observability.Xref(e.Xref), observability.Err(err))
		return e.Filename
	}
	if text == "" {
		return e.Filename
	}
	return text
}

// AddWatermarksToPage queues a label for each entry of the 0-based page and
// returns how many were placed.
func (w *Watermarker) AddWatermarksToPage(ctx context.Context, doc Document, page int, entries []Entry) int {
	_, span := w.tracer.StartSpan(ctx, observability.SpanWatermarkPage)
	defer span.Finish()
	span.SetTag("page", page+1)

	w.logger.Info("adding watermarks", observability.Page(page+1), observability.Int("images", len(entries)))
	placed := 0
	for _, e := range entries {
		text := pdfdoc.DrawableText(w.labelText(ctx, e))
		layout, ok := Fit(text, e.BBox, w.cfg, w.measurer)
		if !ok {
			w.logger.Warn("text box does not fit image", observability.String("file", e.Filename))
			continue
		}
		label := pdfdoc.Label{
			Text:          strings.Join(layout.Lines, "\n"),
			Box:           layout.Box,
			FontSize:      layout.FontSize,
			Color:         w.cfg.FontColor,
			Background:    w.cfg.BackgroundColor.RGB(),
			HasBackground: w.cfg.HasBackground(),
			Padding:       w.cfg.Padding,
		}
		if err := doc.AddLabels(page, []pdfdoc.Label{label}); err != nil {
			w.logger.Error("add watermark failed", observability.String("file", e.Filename), observability.Err(err))
			continue
		}
		c := e.Center()
		w.logger.Debug("added watermark", observability.String("file", e.Filename),
			observability.Float64("cx", c.X), observability.Float64("cy", c.Y), observability.Int("font_size", layout.FontSize))
		placed++
	}
	span.SetTag("placed", placed)
	return placed
}

// Process extracts and tracks the images of every page, then labels each
// page that has tracked images. The document is closed on error.
func (w *Watermarker) Process(ctx context.Context) (*Result, error) {
	ctx, span := w.tracer.StartSpan(ctx, observability.SpanWatermark)
	defer span.Finish()
	span.SetTag("pdf", w.pdfPath)

	doc, err := w.opener(w.pdfPath, w.data)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	res, err := w.process(ctx, doc)
	if err != nil {
		span.SetError(err)
		doc.Close()
		return nil, err
	}
	return res, nil
}

func (w *Watermarker) process(ctx context.Context, doc Document) (*Result, error) {
	start := time.Now()
	w.ext.Reset()
	w.entries = nil
	w.rects = nil

	ecfg := w.ext.Config()
	pageCount := doc.PageCount()
	log := w.logger.With(observability.String("pdf", w.pdfPath))
	log.Info("processing pdf",
		observability.Int("pages", pageCount),
		observability.String("output", ecfg.OutputDir),
		observability.String("format", string(w.cfg.TextFormat)),
		observability.Int("font_size", w.cfg.FontSize),
	)

	byPage := make(map[int][]Entry)
	var pages []int
	for page := 0; page < pageCount; page++ {
		log.Debug("processing page", observability.Page(page+1), observability.Int("of", pageCount))
		entries, err := w.ExtractPage(ctx, doc, page)
		w.entries = append(w.entries, entries...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Error("page failed", observability.Page(page+1), observability.Err(err))
		}
		if len(entries) > 0 {
			byPage[page] = entries
			pages = append(pages, page)
		}
	}

	log.Info("adding watermarks to pages with images", observability.Int("pages", len(pages)))
	watermarked := 0
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		watermarked += w.AddWatermarksToPage(ctx, doc, page, byPage[page])
	}

	res := &Result{
		OriginalPDF:       w.pdfPath,
		Output:            doc,
		TotalPages:        pageCount,
		ImagesExtracted:   len(w.entries),
		ImagesWatermarked: watermarked,
		ProcessingTime:    time.Since(start),
		OutputDirectory:   ecfg.OutputDir,
		BaseURL:           ecfg.BaseURL(),
		Entries:           w.Entries(),
	}
	log.Info("watermarking finished",
		observability.Int("extracted", res.ImagesExtracted),
		observability.Int("watermarked", res.ImagesWatermarked),
		observability.Float64("seconds", res.ProcessingTime.Seconds()),
	)
	return res, nil
}
