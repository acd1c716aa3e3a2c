package config

import "fmt"

// TextFormat selects the label drawn over each image.
type TextFormat string

const (
	FormatFilename TextFormat = "filename"
	FormatFilepath TextFormat = "filepath"
	FormatCustom   TextFormat = "custom"
	FormatScript   TextFormat = "script"
)

// RGB components are in [0,1].
type RGB [3]float64

// RGBA components are in [0,1]; A only toggles the background box.
type RGBA [4]float64

func (c RGBA) RGB() RGB { return RGB{c[0], c[1], c[2]} }

// Hex renders the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", channel(c[0]), channel(c[1]), channel(c[2]))
}

func channel(v float64) int {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return int(v*255 + 0.5)
}

// WatermarkConfig controls the look of the labels on the annotated copy.
type WatermarkConfig struct {
	FontSize        int        `toml:"font_size"`
	FontColor       RGB        `toml:"font_color"`
	BackgroundColor RGBA       `toml:"background_color"`
	TextFormat      TextFormat `toml:"text_format"`
	Padding         int        `toml:"padding"`
	// Expression is evaluated for the script format.
	Expression string `toml:"expression"`
}

// DefaultWatermark returns red 12pt filename labels on a white box.
func DefaultWatermark() WatermarkConfig {
	return WatermarkConfig{
		FontSize:        12,
		FontColor:       RGB{1.0, 0.0, 0.0},
		BackgroundColor: RGBA{1.0, 1.0, 1.0, 0.8},
		TextFormat:      FormatFilename,
		Padding:         4,
	}
}

func (c WatermarkConfig) Validate() error {
	if c.FontSize <= 0 {
		return fmt.Errorf("%w: font_size must be positive, got %d", ErrInvalidConfig, c.FontSize)
	}
	if c.Padding < 0 {
		return fmt.Errorf("%w: padding must be non-negative, got %d", ErrInvalidConfig, c.Padding)
	}
	for i, v := range c.FontColor {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: font_color[%d] must be in [0,1], got %v", ErrInvalidConfig, i, v)
		}
	}
	for i, v := range c.BackgroundColor {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: background_color[%d] must be in [0,1], got %v", ErrInvalidConfig, i, v)
		}
	}
	switch c.TextFormat {
	case FormatFilename, FormatFilepath, FormatCustom:
	case FormatScript:
		if c.Expression == "" {
			return fmt.Errorf("%w: text_format %q requires an expression", ErrInvalidConfig, c.TextFormat)
		}
	default:
		return fmt.Errorf("%w: unknown text_format %q", ErrInvalidConfig, c.TextFormat)
	}
	return nil
}

// HasBackground reports whether a background box is drawn behind labels.
func (c WatermarkConfig) HasBackground() bool { return c.BackgroundColor[3] > 0 }
