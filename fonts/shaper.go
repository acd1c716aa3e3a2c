package fonts

import (
	"bytes"
	"fmt"
	"sync"
	"unicode"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// unitsPerEm is the size text is shaped at before scaling to points.
const unitsPerEm = 1000

// Shaper measures text by shaping it with HarfBuzz.
type Shaper struct {
	mu     sync.Mutex
	face   *gofont.Face
	shaper shaping.HarfbuzzShaper
}

// NewShaper parses a TrueType or OpenType font.
func NewShaper(ttf []byte) (*Shaper, error) {
	face, err := gofont.ParseTTF(bytes.NewReader(ttf))
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Shaper{face: face}, nil
}

// TextWidth returns the shaped advance of text at size points.
func (s *Shaper) TextWidth(text string, size float64) float64 {
	runes := []rune(text)
	if len(runes) == 0 || size <= 0 {
		return 0
	}
	script := DetectScript(runes)
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      s.face,
		Size:      fixed.Int26_6(unitsPerEm * 64),
		Script:    script,
		Language:  language.DefaultLanguage(),
	}

	// HarfbuzzShaper caches state between calls and is not safe for concurrent use.
	s.mu.Lock()
	output := s.shaper.Shape(input)
	s.mu.Unlock()

	var adv fixed.Int26_6
	for _, g := range output.Glyphs {
		adv += g.XAdvance
	}
	if adv < 0 {
		adv = -adv
	}
	return float64(adv) / 64.0 / unitsPerEm * size
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// DetectScript returns the most frequent script of runes, Latin by default.
// Ties keep the script counted first.
func DetectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	bestScript := language.Latin

	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			bestScript = script
		}
	}
	return bestScript
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Thai, r):
		return language.Thai
	case unicode.Is(unicode.Devanagari, r):
		return language.Devanagari
	case unicode.Is(unicode.Han, r):
		return language.Han
	case unicode.Is(unicode.Hiragana, r):
		return language.Hiragana
	case unicode.Is(unicode.Katakana, r):
		return language.Katakana
	case unicode.Is(unicode.Hangul, r):
		return language.Hangul
	}
	return language.Unknown
}
