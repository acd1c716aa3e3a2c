package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/wudi/pdfimages/observability"
	"github.com/wudi/pdfimages/pdfdoc"
)

// ImageSource yields stored images by xref.
type ImageSource interface {
	ExtractImage(xref int) (pdfdoc.RawImage, error)
}

func fromRaw(raw pdfdoc.RawImage) ExtractedImage {
	return ExtractedImage{Ext: raw.Ext, Components: raw.Components, Data: raw.Data}
}

// Recover returns the image at meta.Xref in a storable encoding.
//
// Images with a soft mask are merged with it into an RGBA PNG; a failed
// merge falls back to the base image. Images declaring a color space are
// converted to RGB PNG, keeping the stored encoding when it cannot be
// decoded (JPX). Everything else is returned as stored.
func Recover(src ImageSource, meta ImageMetadata, logger observability.Logger) (ExtractedImage, error) {
	logger = observability.OrNop(logger)

	if meta.HasMask() {
		base, err := src.ExtractImage(meta.Xref)
		if err != nil {
			return ExtractedImage{}, err
		}
		img, err := applyMask(src, base, meta.SMask)
		if err != nil {
			logger.Error("combine image with mask failed, using base image",
				observability.Xref(meta.Xref), observability.Int("smask", meta.SMask), observability.Err(err))
			return fromRaw(base), nil
		}
		// the pixels are RGBA, the reported count stays the base image's
		comp := base.Components
		if comp == 0 {
			comp = 3
		}
		return ExtractedImage{Ext: "png", Components: comp, Data: img}, nil
	}

	raw, err := src.ExtractImage(meta.Xref)
	if err != nil {
		return ExtractedImage{}, err
	}
	if meta.HasColorSpace {
		data, err := toRGBPNG(raw.Data)
		if err != nil {
			logger.Warn("keeping stored encoding", observability.Xref(meta.Xref), observability.String("ext", raw.Ext), observability.Err(err))
			return fromRaw(raw), nil
		}
		return ExtractedImage{Ext: "png", Components: 3, Data: data}, nil
	}
	return fromRaw(raw), nil
}

func applyMask(src ImageSource, base pdfdoc.RawImage, smask int) ([]byte, error) {
	mask, err := src.ExtractImage(smask)
	if err != nil {
		return nil, fmt.Errorf("extract mask: %w", err)
	}
	baseImg, err := decode(base.Data)
	if err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	maskImg, err := decode(mask.Data)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	return encodePNG(mergeMask(baseImg, maskImg))
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("image data is empty")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// mergeMask copies the color of base and takes alpha from the luminance of
// mask, scaled to base's bounds when the sizes differ.
func mergeMask(base, mask image.Image) *image.NRGBA {
	b := base.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), opaque{base}, b.Min, draw.Src)

	alpha := image.NewGray(out.Bounds())
	if mask.Bounds().Size() == out.Bounds().Size() {
		draw.Draw(alpha, alpha.Bounds(), mask, mask.Bounds().Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(alpha, alpha.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[out.PixOffset(x, y)+3] = alpha.Pix[alpha.PixOffset(x, y)]
		}
	}
	return out
}

// opaque drops any alpha channel of the wrapped image.
type opaque struct{ image.Image }

func (o opaque) At(x, y int) color.Color {
	r, g, b, a := o.Image.At(x, y).RGBA()
	if a == 0 {
		return color.RGBA64{A: 0xffff}
	}
	if a != 0xffff {
		r, g, b = r*0xffff/a, g*0xffff/a, b*0xffff/a
	}
	return color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: 0xffff}
}

func toRGBPNG(data []byte) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), opaque{img}, b.Min, draw.Src)
	return encodePNG(out)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
