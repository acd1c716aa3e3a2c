// Package catalog records extraction and watermark runs in a local SQLite
// database so stored images can be looked up later.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/wudi/pdfimages/extractor"
	"github.com/wudi/pdfimages/observability"
	"github.com/wudi/pdfimages/watermark"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Kind tells which operation produced a run.
type Kind string

const (
	KindExtract   Kind = "extract"
	KindWatermark Kind = "watermark"
)

type Run struct {
	ID                string
	Kind              Kind
	PDFPath           string
	OutputDirectory   string
	TotalPages        int
	ImagesFound       int
	ImagesExtracted   int
	ImagesWatermarked int
	Seconds           float64
	CreatedAt         time.Time
}

type Image struct {
	RunID    string
	Page     int
	Xref     int
	Filename string
	Location string
	Ext      string
	Size     int
	Width    int
	Height   int
	Digest   string
}

type Option func(*Store)

func WithLogger(l observability.Logger) Option { return func(s *Store) { s.logger = l } }

// Store is a catalog backed by one SQLite file.
type Store struct {
	db     *sql.DB
	logger observability.Logger
}

// Open opens (creating if needed) the catalog at path. Call Init before use.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: observability.NopLogger{}}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("catalog opened", observability.String("path", path))
	return s, nil
}

// Init creates the tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			pdf_path TEXT NOT NULL,
			output_directory TEXT NOT NULL,
			total_pages INTEGER NOT NULL,
			images_found INTEGER NOT NULL DEFAULT 0,
			images_extracted INTEGER NOT NULL DEFAULT 0,
			images_watermarked INTEGER NOT NULL DEFAULT 0,
			seconds REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			run_id TEXT NOT NULL REFERENCES runs(id),
			page INTEGER NOT NULL,
			xref INTEGER NOT NULL,
			filename TEXT NOT NULL,
			location TEXT NOT NULL,
			ext TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			digest TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, xref)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_digest ON images(digest)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init catalog: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordRun stores run, assigning an id and creation time when unset, and
// returns the id.
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	return recordRun(ctx, s.db, &run)
}

func recordRun(ctx context.Context, db execer, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.Must(uuid.NewV7()).String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, pdf_path, output_directory, total_pages, images_found, images_extracted, images_watermarked, seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.PDFPath, run.OutputDirectory, run.TotalPages,
		run.ImagesFound, run.ImagesExtracted, run.ImagesWatermarked, run.Seconds, run.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return run.ID, nil
}

// RecordImage stores one image of an existing run.
func (s *Store) RecordImage(ctx context.Context, img Image) error {
	return recordImage(ctx, s.db, img)
}

func recordImage(ctx context.Context, db execer, img Image) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO images (run_id, page, xref, filename, location, ext, size, width, height, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.RunID, img.Page, img.Xref, img.Filename, img.Location, img.Ext, img.Size, img.Width, img.Height, img.Digest)
	if err != nil {
		return fmt.Errorf("record image %d: %w", img.Xref, err)
	}
	return nil
}

func (s *Store) record(ctx context.Context, run Run, images []Image) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id, err := recordRun(ctx, tx, &run)
	if err != nil {
		return "", err
	}
	for _, img := range images {
		img.RunID = id
		if err := recordImage(ctx, tx, img); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("catalog updated", observability.String("run", id), observability.String("kind", string(run.Kind)), observability.Int("images", len(images)))
	return id, nil
}

// RecordExtraction stores an extraction result and its images in one transaction.
func (s *Store) RecordExtraction(ctx context.Context, res *extractor.Result) (string, error) {
	run := Run{
		Kind:            KindExtract,
		PDFPath:         res.PDFPath,
		OutputDirectory: res.OutputDirectory,
		TotalPages:      res.TotalPages,
		ImagesFound:     res.UniqueImagesFound,
		ImagesExtracted: res.ImagesExtracted,
		Seconds:         res.ExtractionTime.Seconds(),
	}
	images := make([]Image, 0, len(res.Records))
	for _, r := range res.Records {
		images = append(images, Image{
			Page: r.Page, Xref: r.Xref, Filename: r.Filename, Location: r.Location,
			Ext: r.Ext, Size: r.Size, Width: r.Width, Height: r.Height, Digest: r.Digest,
		})
	}
	return s.record(ctx, run, images)
}

// RecordWatermark stores a watermark result and its tracked images.
func (s *Store) RecordWatermark(ctx context.Context, res *watermark.Result) (string, error) {
	run := Run{
		Kind:              KindWatermark,
		PDFPath:           res.OriginalPDF,
		OutputDirectory:   res.OutputDirectory,
		TotalPages:        res.TotalPages,
		ImagesFound:       res.ImagesExtracted,
		ImagesExtracted:   res.ImagesExtracted,
		ImagesWatermarked: res.ImagesWatermarked,
		Seconds:           res.ProcessingTime.Seconds(),
	}
	images := make([]Image, 0, len(res.Entries))
	for _, e := range res.Entries {
		images = append(images, Image{
			Page: e.Page, Xref: e.Xref, Filename: e.Filename, Location: e.Filepath,
			Ext: strings.TrimPrefix(filepath.Ext(e.Filename), "."), Width: e.Width, Height: e.Height,
		})
	}
	return s.record(ctx, run, images)
}

// Run returns the run with id.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	var (
		r    Run
		kind string
		ms   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, pdf_path, output_directory, total_pages, images_found, images_extracted, images_watermarked, seconds, created_at
		FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &kind, &r.PDFPath, &r.OutputDirectory, &r.TotalPages, &r.ImagesFound, &r.ImagesExtracted, &r.ImagesWatermarked, &r.Seconds, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	r.Kind = Kind(kind)
	r.CreatedAt = time.UnixMilli(ms)
	return r, nil
}

// Images lists the images of a run ordered by page and xref.
func (s *Store) Images(ctx context.Context, runID string) ([]Image, error) {
	return s.images(ctx, `WHERE run_id = ? ORDER BY page, xref`, runID)
}

// ByDigest finds stored images with the given content digest across runs.
func (s *Store) ByDigest(ctx context.Context, digest string) ([]Image, error) {
	return s.images(ctx, `WHERE digest = ? ORDER BY run_id, page, xref`, digest)
}

func (s *Store) images(ctx context.Context, where string, args ...any) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, page, xref, filename, location, ext, size, width, height, digest FROM images `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.RunID, &img.Page, &img.Xref, &img.Filename, &img.Location, &img.Ext, &img.Size, &img.Width, &img.Height, &img.Digest); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
