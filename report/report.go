// Package report renders run summaries as Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/pdfimages/extractor"
	"github.com/wudi/pdfimages/watermark"
)

// Row is one stored image.
type Row struct {
	Page     int
	Xref     int
	Filename string
	Location string
	Width    int
	Height   int
	// Size is the stored byte count; 0 when unknown.
	Size int
}

// Summary is the reportable part of an extraction or watermark run.
type Summary struct {
	Title        string
	PDF          string
	OutputDir    string
	BaseURL      string
	AnnotatedPDF string
	TotalPages   int
	Found        int
	Extracted    int
	// Watermarked is negative for extraction runs.
	Watermarked int
	Seconds     float64
	Rows        []Row
}

func FromExtraction(res *extractor.Result) Summary {
	s := Summary{
		Title:       "Image extraction",
		PDF:         res.PDFPath,
		OutputDir:   res.OutputDirectory,
		TotalPages:  res.TotalPages,
		Found:       res.UniqueImagesFound,
		Extracted:   res.ImagesExtracted,
		Watermarked: -1,
		Seconds:     res.ExtractionTime.Seconds(),
	}
	for _, r := range res.Records {
		s.Rows = append(s.Rows, Row{Page: r.Page, Xref: r.Xref, Filename: r.Filename, Location: r.Location, Width: r.Width, Height: r.Height, Size: r.Size})
	}
	return s
}

// FromWatermark summarises res; annotated is where the labelled PDF was saved.
func FromWatermark(res *watermark.Result, annotated string) Summary {
	s := Summary{
		Title:        "Image watermarking",
		PDF:          res.OriginalPDF,
		OutputDir:    res.OutputDirectory,
		BaseURL:      res.BaseURL,
		AnnotatedPDF: annotated,
		TotalPages:   res.TotalPages,
		Found:        res.ImagesExtracted,
		Extracted:    res.ImagesExtracted,
		Watermarked:  res.ImagesWatermarked,
		Seconds:      res.ProcessingTime.Seconds(),
	}
	for _, e := range res.Entries {
		s.Rows = append(s.Rows, Row{Page: e.Page, Xref: e.Xref, Filename: e.Filename, Location: e.Filepath, Width: e.Width, Height: e.Height})
	}
	return s
}

// Markdown renders s with a GFM table of images.
func (s Summary) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title)
	fmt.Fprintf(&b, "- **PDF:** `%s`\n", s.PDF)
	if s.AnnotatedPDF != "" {
		fmt.Fprintf(&b, "- **Annotated PDF:** `%s`\n", s.AnnotatedPDF)
	}
	fmt.Fprintf(&b, "- **Output:** `%s`\n", s.OutputDir)
	if s.BaseURL != "" {
		fmt.Fprintf(&b, "- **Base URL:** %s\n", s.BaseURL)
	}
	fmt.Fprintf(&b, "- **Pages:** %d\n", s.TotalPages)
	fmt.Fprintf(&b, "- **Unique images found:** %d\n", s.Found)
	fmt.Fprintf(&b, "- **Images extracted:** %d\n", s.Extracted)
	if s.Watermarked >= 0 {
		fmt.Fprintf(&b, "- **Images watermarked:** %d/%d\n", s.Watermarked, s.Extracted)
	}
	fmt.Fprintf(&b, "- **Time:** %.2fs\n", s.Seconds)

	if len(s.Rows) == 0 {
		b.WriteString("\nNo images were extracted.\n")
		return b.String()
	}
	b.WriteString("\n| Page | Xref | File | Size | Location |\n|---:|---:|---|---|---|\n")
	for _, r := range s.Rows {
		size := fmt.Sprintf("%dx%d", r.Width, r.Height)
		if r.Size > 0 {
			size += fmt.Sprintf(" (%d B)", r.Size)
		}
		fmt.Fprintf(&b, "| %d | %d | %s | %s | %s |\n", r.Page, r.Xref, cell(r.Filename), size, cell(r.Location))
	}
	return b.String()
}

func cell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

// HTML converts Markdown to an HTML fragment.
func HTML(markdown string) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves s to path: HTML for .html/.htm, Markdown otherwise.
func Write(path string, s Summary) error {
	data := []byte(s.Markdown())
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		html, err := HTML(string(data))
		if err != nil {
			return err
		}
		data = html
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
