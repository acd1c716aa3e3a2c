package pdfdoc

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/contentstream"
	"github.com/wudi/pdfimages/coords"
	"github.com/wudi/pdfimages/observability"
)

// imageNames maps the image XObject resource names of pageNr to their xrefs.
func (d *Document) imageNames(pageNr int) (map[string]int, error) {
	if names, ok := d.names[pageNr]; ok {
		return names, nil
	}
	_, _, inh, err := d.ctx.PageDict(pageNr, true)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageNr, err)
	}
	names := make(map[string]int)
	if inh != nil && inh.Resources != nil {
		if obj, found := inh.Resources.Find("XObject"); found {
			xobjs, err := d.ctx.DereferenceDict(obj)
			if err != nil {
				return nil, fmt.Errorf("page %d xobjects: %w", pageNr, err)
			}
			for name, o := range xobjs {
				ir, ok := o.(types.IndirectRef)
				if !ok {
					continue
				}
				xref := ir.ObjectNumber.Value()
				if _, err := d.imageStream(xref); err != nil {
					continue
				}
				names[name] = xref
			}
		}
	}
	d.names[pageNr] = names
	return names, nil
}

// ImageRects returns, per xref, the user space rects where images are
// painted on the 0-based page, in painting order. Images painted from
// inside form XObjects are not reported.
func (d *Document) ImageRects(ctx context.Context, page int) (map[int][]coords.Rect, error) {
	pageNr, err := d.pageNr(page)
	if err != nil {
		return nil, err
	}
	names, err := d.imageNames(pageNr)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return map[int][]coords.Rect{}, nil
	}
	r, err := pdfcpu.ExtractPageContent(d.ctx, pageNr)
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", pageNr, err)
	}
	if r == nil {
		return map[int][]coords.Rect{}, nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("page %d content: %w", pageNr, err)
	}
	placements, err := contentstream.NewTracer().ImagePlacements(ctx, content, names)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		d.logger.Warn("content stream truncated", observability.Page(pageNr), observability.Err(err))
	}
	return contentstream.ImageRects(placements), nil
}

// PageBox is the visible area of the 0-based page: the crop box when
// present, else the media box.
func (d *Document) PageBox(page int) (coords.Rect, error) {
	pageNr, err := d.pageNr(page)
	if err != nil {
		return coords.Rect{}, err
	}
	_, _, inh, err := d.ctx.PageDict(pageNr, false)
	if err != nil {
		return coords.Rect{}, fmt.Errorf("page %d: %w", pageNr, err)
	}
	if inh == nil {
		return coords.Rect{}, fmt.Errorf("page %d: missing page attributes", pageNr)
	}
	box := inh.CropBox
	if box == nil {
		box = inh.MediaBox
	}
	if box == nil {
		return coords.Rect{}, fmt.Errorf("page %d: missing media box", pageNr)
	}
	return coords.RectFromPoints(
		coords.Point{X: box.LL.X, Y: box.LL.Y},
		coords.Point{X: box.UR.X, Y: box.UR.Y},
	), nil
}

// Label is a text stamp centered on Box.
type Label struct {
	Text          string
	Box           coords.Rect
	FontSize      int
	Color         config.RGB
	Background    config.RGB
	HasBackground bool
	Padding       int
}

// AddLabels queues labels for the 0-based page. They are applied by Write.
func (d *Document) AddLabels(page int, labels []Label) error {
	if len(labels) == 0 {
		return nil
	}
	box, err := d.PageBox(page)
	if err != nil {
		return err
	}
	for _, l := range labels {
		wm, err := api.TextWatermark(DrawableText(l.Text), labelDescription(l, box), true, false, types.POINTS)
		if err != nil {
			return fmt.Errorf("label %q: %w", l.Text, err)
		}
		d.pending[page+1] = append(d.pending[page+1], wm)
	}
	return nil
}

// DrawableText returns text as the Helvetica stamp draws it. Runes outside
// Latin-1 have no glyph and become '?'. pdfcpu reads a backslash followed by
// n as a line break and has no escape for it, so a soft hyphen is kept
// between the two. Empty lines are dropped, as the stamp drops them. The
// result is stable under a second call.
func DrawableText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	prev := rune(0)
	for _, r := range text {
		if r > 0xff {
			r = '?'
		}
		if prev == '\\' && r == 'n' {
			b.WriteRune(softHyphen)
		}
		b.WriteRune(r)
		prev = r
	}
	out := b.String()
	if !strings.Contains(out, "\n") {
		return out
	}
	lines := strings.FieldsFunc(out, func(r rune) bool { return r == '\n' })
	return strings.Join(lines, "\n")
}

const softHyphen = '\u00ad'

// labelDescription renders a pdfcpu stamp description placing l at its box
// center. Offsets are relative to the page box center.
func labelDescription(l Label, page coords.Rect) string {
	c := l.Box.Center()
	pc := page.Center()
	parts := []string{
		"font:Helvetica",
		"points:" + strconv.Itoa(l.FontSize),
		"scale:1 abs",
		"pos:c",
		"off:" + ftoa(c.X-pc.X) + " " + ftoa(c.Y-pc.Y),
		"rot:0",
		"fillcolor:" + l.Color.Hex(),
		"opacity:1",
		"al:c",
	}
	if l.HasBackground {
		parts = append(parts,
			"bgcolor:"+l.Background.Hex(),
			"margins:"+strconv.Itoa(l.Padding),
		)
	}
	return strings.Join(parts, ", ")
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
