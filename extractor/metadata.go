package extractor

import (
	"fmt"
	"path"

	"github.com/wudi/pdfimages/pdfdoc"
)

// ImageMetadata describes an image reference found on a page.
type ImageMetadata struct {
	Xref       int
	SMask      int
	Width      int
	Height     int
	Bpc        int
	ColorSpace string
	// Name is the page resource name; ImageName the name used for output files.
	Name      string
	ImageName string
	Filter    string
	// HasColorSpace mirrors a /ColorSpace entry in the image dictionary.
	HasColorSpace bool
}

// NewImageMetadata validates an engine image entry.
func NewImageMetadata(info pdfdoc.ImageInfo) (ImageMetadata, error) {
	switch {
	case info.Xref < 0:
		return ImageMetadata{}, fmt.Errorf("invalid xref %d", info.Xref)
	case info.SMask < 0:
		return ImageMetadata{}, fmt.Errorf("invalid smask %d for xref %d", info.SMask, info.Xref)
	case info.Width < 0 || info.Height < 0:
		return ImageMetadata{}, fmt.Errorf("invalid size %dx%d for xref %d", info.Width, info.Height, info.Xref)
	case info.Bpc < 0:
		return ImageMetadata{}, fmt.Errorf("invalid bits per component %d for xref %d", info.Bpc, info.Xref)
	}
	return ImageMetadata{
		Xref:          info.Xref,
		SMask:         info.SMask,
		Width:         info.Width,
		Height:        info.Height,
		Bpc:           info.Bpc,
		ColorSpace:    info.ColorSpace,
		Name:          info.Name,
		ImageName:     fmt.Sprintf("img%05d", info.Xref),
		Filter:        info.Filter,
		HasColorSpace: info.HasColorSpace,
	}, nil
}

func (m ImageMetadata) HasData() bool { return m.Xref != 0 }
func (m ImageMetadata) HasMask() bool { return m.SMask > 0 }

func (m ImageMetadata) MinDimension() int { return min(m.Width, m.Height) }

// ExtractedImage is an encoded image ready to be stored.
type ExtractedImage struct {
	Ext string
	// Components is the number of color channels, alpha excluded.
	Components int
	Data       []byte
}

// Filename is img<xref:05d>.<ext>.
func Filename(xref int, ext string) string { return fmt.Sprintf("img%05d.%s", xref, ext) }

// PageDir is the slash separated directory of a 1-based page below the output root.
func PageDir(pageNum int) string { return path.Join("images", fmt.Sprintf("page_%d", pageNum)) }

// ObjectName is the storage name of an image: images/page_<n>/<filename>.
func ObjectName(pageNum int, filename string) string { return path.Join(PageDir(pageNum), filename) }
