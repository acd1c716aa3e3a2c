// Package fonts measures label text.
package fonts

import (
	"sync"
	"unicode/utf8"

	"golang.org/x/image/font/gofont/goregular"
)

// FallbackFactor is the advance of one rune, in em, when no font is available.
const FallbackFactor = 0.6

// Measurer reports the advance width of a single line of text in points.
type Measurer interface {
	TextWidth(text string, size float64) float64
}

// Approx measures every rune as FallbackFactor em wide.
type Approx struct{}

func (Approx) TextWidth(text string, size float64) float64 {
	return float64(utf8.RuneCountInString(text)) * FallbackFactor * size
}

var (
	defaultOnce   sync.Once
	defaultShaper *Shaper
	defaultErr    error
)

// Default returns a shaper over Go Regular, falling back to Approx when the
// face cannot be parsed.
func Default() Measurer {
	defaultOnce.Do(func() {
		defaultShaper, defaultErr = NewShaper(goregular.TTF)
	})
	if defaultErr != nil {
		return Approx{}
	}
	return defaultShaper
}
