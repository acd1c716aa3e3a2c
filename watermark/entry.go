package watermark

import (
	"fmt"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/coords"
	"github.com/wudi/pdfimages/scripting"
)

// Entry is an extracted image together with where it is painted.
type Entry struct {
	// Filepath is the local path or blob URL the image was stored at.
	Filepath string `json:"filepath"`
	Filename string `json:"filename"`
	// Page is 1-based.
	Page   int `json:"page"`
	Xref   int `json:"xref"`
	Width  int `json:"width"`
	Height int `json:"height"`
	// BBox is the first painted rect in PDF user space.
	BBox coords.Rect `json:"bbox"`
}

func (e Entry) Center() coords.Point { return e.BBox.Center() }

// Text returns the label for format. The script format and unknown formats
// yield the filename; scripts are evaluated by the Watermarker.
func (e Entry) Text(format config.TextFormat) string {
	switch format {
	case config.FormatFilepath:
		return e.Filepath
	case config.FormatCustom:
		return fmt.Sprintf("%s\n(Page %d)", e.Filename, e.Page)
	default:
		return e.Filename
	}
}

func (e Entry) vars() scripting.Vars {
	return scripting.Vars{
		Filename: e.Filename,
		Filepath: e.Filepath,
		Page:     e.Page,
		Xref:     e.Xref,
		Width:    e.Width,
		Height:   e.Height,
	}
}
