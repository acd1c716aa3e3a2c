// Package extractor pulls embedded images out of PDFs, filters them and
// stores them below an output directory or in a blob container.
package extractor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/observability"
	"github.com/wudi/pdfimages/pdfdoc"
	"github.com/wudi/pdfimages/storage"
)

// ErrPDFNotFound is returned when the input PDF does not exist.
var ErrPDFNotFound = errors.New("pdf file does not exist")

// Document is the engine surface the extraction loop needs.
type Document interface {
	ImageSource
	PageCount() int
	PageImages(page int) ([]pdfdoc.ImageInfo, error)
	Close() error
}

// Opener opens a PDF for extraction.
type Opener func(path string) (Document, error)

type options struct {
	logger   observability.Logger
	tracer   observability.Tracer
	opener   Opener
	password string
	storer   *storage.Storer
	storeOpt []storage.Option
}

type Option func(*options)

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

func WithTracer(t observability.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithOpener replaces the pdfcpu backed opener.
func WithOpener(op Opener) Option { return func(o *options) { o.opener = op } }

func WithPassword(pw string) Option { return func(o *options) { o.password = pw } }

// WithStorer shares a storer, e.g. between an extractor and a watermarker.
func WithStorer(s *storage.Storer) Option { return func(o *options) { o.storer = s } }

// WithStorageOptions configures the storer built by New.
func WithStorageOptions(opts ...storage.Option) Option {
	return func(o *options) { o.storeOpt = append(o.storeOpt, opts...) }
}

// Record describes one stored image.
type Record struct {
	Page     int    `json:"page"`
	Xref     int    `json:"xref"`
	Filename string `json:"filename"`
	Location string `json:"location"`
	Ext      string `json:"ext"`
	Size     int    `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	// Digest is the hex BLAKE2b-256 of the stored bytes.
	Digest string `json:"digest"`
}

// Result summarises an ExtractAll run.
type Result struct {
	PDFPath           string        `json:"pdf_path"`
	TotalPages        int           `json:"total_pages"`
	UniqueImagesFound int           `json:"unique_images_found"`
	ImagesExtracted   int           `json:"images_extracted"`
	ExtractionTime    time.Duration `json:"-"`
	ExtractedFiles    []string      `json:"extracted_files"`
	OutputDirectory   string        `json:"output_directory"`
	Records           []Record      `json:"images"`
}

// MarshalJSON reports the extraction time in seconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		ExtractionTime float64 `json:"extraction_time"`
	}{plain(r), r.ExtractionTime.Seconds()})
}

// Extractor runs the extraction loop. Xrefs are extracted at most once per
// document. It is not safe for concurrent use.
type Extractor struct {
	cfg       config.ExtractionConfig
	logger    observability.Logger
	tracer    observability.Tracer
	opener    Opener
	storer    *storage.Storer
	extracted map[int]bool
	order     []int
}

// New validates cfg and, for the local target, creates the output and
// images directories.
func New(cfg config.ExtractionConfig, opts ...Option) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		logger: observability.NopLogger{},
		tracer: observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.opener == nil {
		pw, logger := o.password, o.logger
		o.opener = func(path string) (Document, error) {
			doc, err := pdfdoc.Open(path, pdfdoc.WithPassword(pw), pdfdoc.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return doc, nil
		}
	}
	if o.storer == nil {
		sopts := append([]storage.Option{storage.WithLogger(o.logger), storage.WithTracer(o.tracer)}, o.storeOpt...)
		o.storer = storage.NewStorer(cfg, sopts...)
	}

	e := &Extractor{
		cfg:       cfg,
		logger:    o.logger,
		tracer:    o.tracer,
		opener:    o.opener,
		storer:    o.storer,
		extracted: make(map[int]bool),
	}
	if cfg.OutputTarget() == config.TargetLocal {
		for _, dir := range []string{cfg.OutputDir, filepath.Join(cfg.OutputDir, "images")} {
			if dir == "" {
				continue
			}
			if _, err := os.Stat(dir); err == nil {
				continue
			}
			e.logger.Info("creating directory", observability.String("dir", dir))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create output dir: %w", err)
			}
		}
	}
	return e, nil
}

func (e *Extractor) Config() config.ExtractionConfig { return e.cfg }

// Logger is the logger the extractor reports to.
func (e *Extractor) Logger() observability.Logger { return e.logger }

// Extracted lists the xrefs extracted so far, in extraction order.
func (e *Extractor) Extracted() []int { return append([]int(nil), e.order...) }

// IsExtracted reports whether xref was already extracted.
func (e *Extractor) IsExtracted(xref int) bool { return e.extracted[xref] }

// MarkExtracted records xref as extracted.
func (e *Extractor) MarkExtracted(xref int) {
	if !e.extracted[xref] {
		e.extracted[xref] = true
		e.order = append(e.order, xref)
	}
}

// Reset forgets previously extracted xrefs.
func (e *Extractor) Reset() {
	e.extracted = make(map[int]bool)
	e.order = nil
}

// ShouldExtract applies the dimension, absolute size and relative size filters.
func (e *Extractor) ShouldExtract(meta ImageMetadata, img ExtractedImage) bool {
	if e.cfg.DimLimit > 0 && meta.MinDimension() < e.cfg.DimLimit {
		return false
	}
	if e.cfg.AbsSize > 0 && len(img.Data) < e.cfg.AbsSize {
		return false
	}
	if e.cfg.RelSize > 0.0 {
		pixels := meta.Width * meta.Height * img.Components
		if pixels > 0 && float64(len(img.Data))/float64(pixels) < e.cfg.RelSize {
			return false
		}
	}
	return true
}

// Store writes an image for the 1-based pageNum to the configured target
// and returns its path or URL.
func (e *Extractor) Store(ctx context.Context, pageNum int, filename string, data []byte) (string, error) {
	return e.storer.Store(ctx, e.cfg.OutputTarget(), data, ObjectName(pageNum, filename))
}

// Candidates turns the page's image list into metadata worth extracting,
// logging and skipping malformed, duplicate and empty entries.
func (e *Extractor) Candidates(doc Document, page int) ([]ImageMetadata, []int, error) {
	images, err := doc.PageImages(page)
	if err != nil {
		return nil, nil, err
	}
	log := e.logger.With(observability.Page(page + 1))
	log.Info("found image references", observability.Int("count", len(images)))

	found := make([]int, 0, len(images))
	var out []ImageMetadata
	for i, info := range images {
		found = append(found, info.Xref)
		meta, err := NewImageMetadata(info)
		if err != nil {
			log.Error("parse image entry", observability.Int("index", i+1), observability.Err(err))
			continue
		}
		if e.extracted[meta.Xref] {
			log.Warn("skipping duplicate image", observability.Xref(meta.Xref))
			continue
		}
		if !meta.HasData() {
			log.Warn("skipping image with no data", observability.Xref(meta.Xref))
			continue
		}
		out = append(out, meta)
	}
	return out, found, nil
}

// ExtractPage extracts the images of the 0-based page and returns the stored paths.
func (e *Extractor) ExtractPage(ctx context.Context, doc Document, page int) ([]string, error) {
	records, _, err := e.extractPage(ctx, doc, page)
	files := make([]string, len(records))
	for i, r := range records {
		files[i] = r.Location
	}
	return files, err
}

func (e *Extractor) extractPage(ctx context.Context, doc Document, page int) ([]Record, []int, error) {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanExtractPage)
	defer span.Finish()
	span.SetTag("page", page+1)

	candidates, found, err := e.Candidates(doc, page)
	if err != nil {
		span.SetError(err)
		return nil, nil, err
	}
	var records []Record
	for _, meta := range candidates {
		if err := ctx.Err(); err != nil {
			return records, found, err
		}
		rec, ok, err := e.extractOne(ctx, doc, page+1, meta)
		if err != nil {
			e.logger.Error("extract image failed", observability.Page(page+1), observability.Xref(meta.Xref), observability.Err(err))
			continue
		}
		if ok {
			records = append(records, rec)
		}
	}
	span.SetTag("extracted", len(records))
	return records, found, nil
}

// ExtractImage recovers, filters and stores one image of the 1-based
// pageNum. ok is false when a filter rejected the image.
func (e *Extractor) ExtractImage(ctx context.Context, src ImageSource, pageNum int, meta ImageMetadata) (Record, bool, error) {
	return e.extractOne(ctx, src, pageNum, meta)
}

func (e *Extractor) extractOne(ctx context.Context, src ImageSource, pageNum int, meta ImageMetadata) (Record, bool, error) {
	img, err := Recover(src, meta, e.logger)
	if err != nil {
		return Record{}, false, fmt.Errorf("recover image: %w", err)
	}
	if !e.ShouldExtract(meta, img) {
		e.logger.Warn("filtered out image", observability.Page(pageNum), observability.Xref(meta.Xref))
		return Record{}, false, nil
	}

	filename := Filename(meta.Xref, img.Ext)
	location, err := e.Store(ctx, pageNum, filename, img.Data)
	if err != nil {
		return Record{}, false, fmt.Errorf("store %s: %w", filename, err)
	}
	e.MarkExtracted(meta.Xref)

	sum := blake2b.Sum256(img.Data)
	e.logger.Info("extracted image",
		observability.String("file", filename),
		observability.Int("bytes", len(img.Data)),
		observability.Int("width", meta.Width),
		observability.Int("height", meta.Height),
	)
	return Record{
		Page:     pageNum,
		Xref:     meta.Xref,
		Filename: filename,
		Location: location,
		Ext:      img.Ext,
		Size:     len(img.Data),
		Width:    meta.Width,
		Height:   meta.Height,
		Digest:   hex.EncodeToString(sum[:]),
	}, true, nil
}

// ExtractAll extracts every image of the PDF at path.
func (e *Extractor) ExtractAll(ctx context.Context, path string) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPDFNotFound, path)
		}
		return nil, fmt.Errorf("stat pdf: %w", err)
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanExtract)
	defer span.Finish()
	span.SetTag("pdf", path)

	start := time.Now()
	doc, err := e.opener(path)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	e.Reset()
	pageCount := doc.PageCount()
	log := e.logger.With(observability.String("pdf", path))
	log.Info("processing pdf", observability.Int("pages", pageCount), observability.String("output", e.cfg.OutputDir))

	res := &Result{
		PDFPath:         path,
		TotalPages:      pageCount,
		OutputDirectory: e.cfg.OutputDir,
		ExtractedFiles:  []string{},
		Records:         []Record{},
	}
	unique := make(map[int]bool)
	for page := 0; page < pageCount; page++ {
		log.Debug("processing page", observability.Page(page+1), observability.Int("of", pageCount))
		records, found, err := e.extractPage(ctx, doc, page)
		for _, xref := range found {
			unique[xref] = true
		}
		for _, r := range records {
			res.ExtractedFiles = append(res.ExtractedFiles, r.Location)
			res.Records = append(res.Records, r)
		}
		if err != nil {
			if ctx.Err() != nil {
				span.SetError(err)
				return nil, err
			}
			log.Error("page failed", observability.Page(page+1), observability.Err(err))
		}
	}

	res.UniqueImagesFound = len(unique)
	res.ImagesExtracted = len(e.order)
	res.ExtractionTime = time.Since(start)
	span.SetTag("images", res.ImagesExtracted)
	log.Info("extraction finished",
		observability.Int("extracted", res.ImagesExtracted),
		observability.Int("unique", res.UniqueImagesFound),
		observability.Float64("seconds", res.ExtractionTime.Seconds()),
	)
	return res, nil
}
