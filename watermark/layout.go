package watermark

import (
	"math"
	"strings"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/coords"
	"github.com/wudi/pdfimages/fonts"
)

const (
	// LineHeight is the line advance in multiples of the font size.
	LineHeight = 1.2
	// MinFontSize is the smallest size a label is shrunk to.
	MinFontSize = 4
)

// Layout is a label box fitted to an image.
type Layout struct {
	Lines    []string
	FontSize int
	Box      coords.Rect
}

// Fit centers text on img. The font shrinks until the padded text box fits
// inside img; ok is false when that needs less than MinFontSize or the box
// does not overlap img.
func Fit(text string, img coords.Rect, cfg config.WatermarkConfig, m fonts.Measurer) (Layout, bool) {
	if m == nil {
		m = fonts.Approx{}
	}
	lines := strings.Split(text, "\n")
	pad := float64(cfg.Padding)
	size := float64(cfg.FontSize)

	w, h := measure(lines, size, m)
	if w+2*pad > img.Width() || h+2*pad > img.Height() {
		scale := (img.Height() - 2*pad) / h
		if w > 0 {
			scale = math.Min(scale, (img.Width()-2*pad)/w)
		}
		size = math.Floor(size * scale)
		if size < MinFontSize {
			return Layout{}, false
		}
		w, h = measure(lines, size, m)
	}

	c := img.Center()
	bw, bh := w+2*pad, h+2*pad
	box := coords.Rect{X0: c.X - bw/2, Y0: c.Y - bh/2, X1: c.X + bw/2, Y1: c.Y + bh/2}
	box = box.Intersect(img)
	if box.IsEmpty() {
		return Layout{}, false
	}
	return Layout{Lines: lines, FontSize: int(size), Box: box}, true
}

func measure(lines []string, size float64, m fonts.Measurer) (w, h float64) {
	for _, l := range lines {
		w = math.Max(w, m.TextWidth(l, size))
	}
	return w, float64(len(lines)) * LineHeight * size
}
