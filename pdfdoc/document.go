// Package pdfdoc adapts pdfcpu to the small document surface used by the
// extractor and the watermarker: image enumeration, image extraction,
// placement lookup and text stamps.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/wudi/pdfimages/observability"
)

var (
	ErrClosed      = errors.New("document closed")
	ErrPageRange   = errors.New("page out of range")
	ErrNotAnImage  = errors.New("object is not an image")
	ErrUnsupported = errors.New("unsupported image")
)

func init() {
	// pdfcpu writes a config dir under the user's home on first use otherwise.
	api.DisableConfigDir()
}

// Mode selects the pdfcpu command the document is opened for.
type Mode int

const (
	ModeExtract Mode = iota
	ModeWatermark
)

type options struct {
	password string
	logger   observability.Logger
	mode     Mode
}

type Option func(*options)

func WithPassword(pw string) Option { return func(o *options) { o.password = pw } }

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

func WithMode(m Mode) Option { return func(o *options) { o.mode = m } }

// Document is an opened PDF. It is not safe for concurrent use.
type Document struct {
	ctx     *model.Context
	path    string
	logger  observability.Logger
	pending map[int][]*model.Watermark
	// names caches page -> image resource name -> xref.
	names     map[int]map[string]int
	optimized bool
	closed    bool
}

// Open reads and validates the PDF at path. Object numbers stay as stored:
// byte-identical images keep their own xrefs until the document is written.
func Open(path string, opts ...Option) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	d, err := open(f, opts...)
	if err != nil {
		return nil, err
	}
	d.path = path
	return d, nil
}

// OpenBytes is Open over an in-memory PDF.
func OpenBytes(data []byte, opts ...Option) (*Document, error) {
	return open(bytes.NewReader(data), opts...)
}

func open(rs io.ReadSeeker, opts ...Option) (*Document, error) {
	o := options{logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.ValidateLinks = false
	if o.password != "" {
		conf.UserPW = o.password
		conf.OwnerPW = o.password
	}
	switch o.mode {
	case ModeWatermark:
		conf.Cmd = model.ADDWATERMARKS
	default:
		conf.Cmd = model.EXTRACTIMAGES
	}

	ctx, err := api.ReadAndValidate(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	o.logger.Debug("pdf opened", observability.Int("pages", ctx.PageCount))
	return &Document{
		ctx:     ctx,
		logger:  o.logger,
		pending: make(map[int][]*model.Watermark),
		names:   make(map[int]map[string]int),
	}, nil
}

// Path is the file the document was opened from, or "" for OpenBytes.
func (d *Document) Path() string { return d.path }

func (d *Document) PageCount() int {
	if d.closed {
		return 0
	}
	return d.ctx.PageCount
}

// pageNr converts a 0-based page index to pdfcpu's 1-based page number.
func (d *Document) pageNr(page int) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if page < 0 || page >= d.ctx.PageCount {
		return 0, fmt.Errorf("%w: %d of %d", ErrPageRange, page, d.ctx.PageCount)
	}
	return page + 1, nil
}

// Write applies the queued labels as stamps and serializes the PDF to w.
func (d *Document) Write(w io.Writer) error {
	if d.closed {
		return ErrClosed
	}
	if !d.optimized {
		if err := pdfcpu.OptimizeXRefTable(d.ctx); err != nil {
			return fmt.Errorf("optimize pdf: %w", err)
		}
		d.optimized = true
	}
	if len(d.pending) > 0 {
		d.ctx.Cmd = model.ADDWATERMARKS
		if err := pdfcpu.AddWatermarksSliceMap(d.ctx, d.pending); err != nil {
			return fmt.Errorf("stamp labels: %w", err)
		}
		d.pending = make(map[int][]*model.Watermark)
	}
	if err := api.WriteContext(d.ctx, w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// Save writes the document to path.
func (d *Document) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close releases the document. Further calls fail with ErrClosed.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.pending = nil
	d.names = nil
	d.ctx = nil
	return nil
}
