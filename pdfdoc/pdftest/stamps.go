package pdftest

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/pdfimages/contentstream"
	"github.com/wudi/pdfimages/coords"
)

// FormRects returns the user space bounding box of every form XObject
// painted directly by the content of the 1-based page, in painting order.
// Text stamps are form XObjects, so this is where they land.
func FormRects(data []byte, pageNr int) ([]coords.Rect, error) {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadAndValidate(bytes.NewReader(data), conf)
	if err != nil {
		return nil, err
	}
	_, _, inh, err := ctx.PageDict(pageNr, true)
	if err != nil {
		return nil, err
	}
	if inh == nil || inh.Resources == nil {
		return nil, nil
	}
	obj, found := inh.Resources.Find("XObject")
	if !found {
		return nil, nil
	}
	xobjs, err := ctx.DereferenceDict(obj)
	if err != nil {
		return nil, err
	}

	names := make(map[string]int)
	boxes := make(map[int]coords.Rect)
	for name, o := range xobjs {
		ir, ok := o.(types.IndirectRef)
		if !ok {
			continue
		}
		sd, _, err := ctx.DereferenceStreamDict(ir)
		if err != nil || sd == nil {
			continue
		}
		if st := sd.Subtype(); st == nil || *st != "Form" {
			continue
		}
		bbox, err := numbers(ctx, sd.Dict, "BBox", 4)
		if err != nil {
			return nil, fmt.Errorf("form %s: %w", name, err)
		}
		m := coords.Identity()
		if _, found := sd.Find("Matrix"); found {
			v, err := numbers(ctx, sd.Dict, "Matrix", 6)
			if err != nil {
				return nil, fmt.Errorf("form %s: %w", name, err)
			}
			copy(m[:], v)
		}
		nr := ir.ObjectNumber.Value()
		names[name] = nr
		boxes[nr] = coords.RectFromPoints(
			coords.Point{X: bbox[0], Y: bbox[1]},
			coords.Point{X: bbox[2], Y: bbox[3]},
		).Transform(m)
	}

	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return nil, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	placements, err := contentstream.NewTracer().ImagePlacements(context.Background(), content, names)
	if err != nil {
		return nil, err
	}
	out := make([]coords.Rect, 0, len(placements))
	for _, p := range placements {
		out = append(out, boxes[p.Xref].Transform(p.CTM))
	}
	return out, nil
}

func numbers(ctx *model.Context, dict types.Dict, key string, n int) ([]float64, error) {
	obj, _ := dict.Find(key)
	arr, err := ctx.DereferenceArray(obj)
	if err != nil {
		return nil, err
	}
	if len(arr) != n {
		return nil, fmt.Errorf("%s: want %d numbers, got %d", key, n, len(arr))
	}
	out := make([]float64, n)
	for i, o := range arr {
		v, err := ctx.Dereference(o)
		if err != nil {
			return nil, err
		}
		switch x := v.(type) {
		case types.Integer:
			out[i] = float64(x.Value())
		case types.Float:
			out[i] = x.Value()
		default:
			return nil, fmt.Errorf("%s[%d]: not a number", key, i)
		}
	}
	return out, nil
}
