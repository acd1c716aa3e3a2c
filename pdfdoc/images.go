package pdfdoc

import (
	"fmt"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/wudi/pdfimages/observability"
)

// ImageInfo describes one image XObject referenced by a page.
type ImageInfo struct {
	Xref   int
	SMask  int
	Width  int
	Height int
	Bpc    int
	// ColorSpace is the color space family name, e.g. DeviceRGB or ICCBased.
	ColorSpace string
	// Name is the page resource name, empty for images nested in forms.
	Name       string
	Filter     string
	Components int
	// HasColorSpace reports whether the image dictionary carries /ColorSpace.
	HasColorSpace bool
	ImageMask     bool
}

// RawImage is an image as stored in the PDF, re-wrapped in a file format.
type RawImage struct {
	// Ext is png, jpg, jpx or tif.
	Ext        string
	Components int
	Data       []byte
}

// PageImages lists the images referenced by the 0-based page, sorted by xref.
func (d *Document) PageImages(page int) ([]ImageInfo, error) {
	pageNr, err := d.pageNr(page)
	if err != nil {
		return nil, err
	}
	names, err := d.imageNames(pageNr)
	if err != nil {
		return nil, err
	}
	byXref := make(map[int]string, len(names))
	for name, xref := range names {
		if prev, ok := byXref[xref]; !ok || name < prev {
			byXref[xref] = name
		}
	}

	xrefs, err := d.imageXrefs(pageNr)
	if err != nil {
		return nil, err
	}

	var out []ImageInfo
	for _, objNr := range xrefs {
		info, err := d.imageInfo(objNr)
		if err != nil {
			d.logger.Warn("skip image object", observability.Page(pageNr), observability.Xref(objNr), observability.Err(err))
			continue
		}
		info.Name = byXref[objNr]
		out = append(out, info)
	}

	// soft masks are reported through their parent image only
	masks := make(map[int]bool)
	for _, info := range out {
		if info.SMask > 0 {
			masks[info.SMask] = true
		}
	}
	kept := out[:0]
	for _, info := range out {
		if !masks[info.Xref] {
			kept = append(kept, info)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Xref < kept[j].Xref })
	return kept, nil
}

// maxFormDepth bounds the descent into nested form XObjects.
const maxFormDepth = 16

// imageXrefs collects the image XObjects reachable from the resources of
// pageNr, including those of nested forms. Each object is reported once.
func (d *Document) imageXrefs(pageNr int) ([]int, error) {
	_, _, inh, err := d.ctx.PageDict(pageNr, true)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageNr, err)
	}
	if inh == nil {
		return nil, nil
	}
	seen := make(map[int]bool)
	var xrefs []int
	var walk func(res types.Dict, depth int)
	walk = func(res types.Dict, depth int) {
		if res == nil || depth > maxFormDepth {
			return
		}
		obj, found := res.Find("XObject")
		if !found {
			return
		}
		xobjs, err := d.ctx.DereferenceDict(obj)
		if err != nil {
			d.logger.Warn("skip xobject resources", observability.Page(pageNr), observability.Err(err))
			return
		}
		for _, o := range xobjs {
			ir, ok := o.(types.IndirectRef)
			if !ok {
				continue
			}
			nr := ir.ObjectNumber.Value()
			if seen[nr] {
				continue
			}
			seen[nr] = true
			sd, _, err := d.ctx.DereferenceStreamDict(ir)
			if err != nil || sd == nil {
				continue
			}
			st := sd.Subtype()
			if st == nil {
				continue
			}
			switch *st {
			case "Image":
				xrefs = append(xrefs, nr)
			case "Form":
				if r, found := sd.Find("Resources"); found {
					if inner, err := d.ctx.DereferenceDict(r); err == nil {
						walk(inner, depth+1)
					}
				}
			}
		}
	}
	walk(inh.Resources, 0)
	sort.Ints(xrefs)
	return xrefs, nil
}

func (d *Document) imageStream(xref int) (*types.StreamDict, error) {
	if d.closed {
		return nil, ErrClosed
	}
	obj, err := d.ctx.FindObject(xref)
	if err != nil {
		return nil, fmt.Errorf("find object %d: %w", xref, err)
	}
	var sd types.StreamDict
	switch o := obj.(type) {
	case types.StreamDict:
		sd = o
	case *types.StreamDict:
		sd = *o
	default:
		return nil, fmt.Errorf("%w: object %d", ErrNotAnImage, xref)
	}
	if st := sd.Subtype(); st == nil || *st != "Image" {
		return nil, fmt.Errorf("%w: object %d", ErrNotAnImage, xref)
	}
	return &sd, nil
}

func (d *Document) imageInfo(xref int) (ImageInfo, error) {
	sd, err := d.imageStream(xref)
	if err != nil {
		return ImageInfo{}, err
	}
	info := ImageInfo{
		Xref:   xref,
		Width:  d.intEntry(sd.Dict, "Width"),
		Height: d.intEntry(sd.Dict, "Height"),
		Bpc:    d.intEntry(sd.Dict, "BitsPerComponent"),
	}
	if ir := sd.IndirectRefEntry("SMask"); ir != nil {
		info.SMask = ir.ObjectNumber.Value()
	}
	if n := len(sd.FilterPipeline); n > 0 {
		info.Filter = sd.FilterPipeline[n-1].Name
	}
	if b := sd.BooleanEntry("ImageMask"); b != nil && *b {
		info.ImageMask = true
		info.Components = 1
		info.Bpc = 1
	}
	if cs, found := sd.Find("ColorSpace"); found {
		info.HasColorSpace = true
		info.ColorSpace, info.Components = d.colorSpace(cs)
	}
	return info, nil
}

// ExtractImage returns the image stored at xref.
func (d *Document) ExtractImage(xref int) (RawImage, error) {
	sd, err := d.imageStream(xref)
	if err != nil {
		return RawImage{}, err
	}
	img, err := pdfcpu.ExtractImage(d.ctx, sd, false, fmt.Sprintf("img%d", xref), xref, false)
	if err != nil {
		return RawImage{}, fmt.Errorf("extract image %d: %w", xref, err)
	}
	if img == nil {
		return RawImage{}, fmt.Errorf("%w: object %d", ErrUnsupported, xref)
	}
	data, err := io.ReadAll(img)
	if err != nil {
		return RawImage{}, fmt.Errorf("read image %d: %w", xref, err)
	}
	comp := img.Comp
	if comp == 0 {
		_, comp = d.colorSpaceOf(sd)
	}
	return RawImage{Ext: img.FileType, Components: comp, Data: data}, nil
}

func (d *Document) colorSpaceOf(sd *types.StreamDict) (string, int) {
	cs, found := sd.Find("ColorSpace")
	if !found {
		return "", 1
	}
	return d.colorSpace(cs)
}

// colorSpace resolves a /ColorSpace value to its family and component count.
func (d *Document) colorSpace(obj types.Object) (string, int) {
	o, err := d.ctx.Dereference(obj)
	if err != nil || o == nil {
		return "", 0
	}
	switch cs := o.(type) {
	case types.Name:
		return cs.Value(), nameComponents(cs.Value())
	case types.Array:
		if len(cs) == 0 {
			return "", 0
		}
		first, err := d.ctx.Dereference(cs[0])
		if err != nil {
			return "", 0
		}
		family, ok := first.(types.Name)
		if !ok {
			return "", 0
		}
		switch family.Value() {
		case "ICCBased":
			if len(cs) > 1 {
				if sd, _, err := d.ctx.DereferenceStreamDict(cs[1]); err == nil && sd != nil {
					if n := d.intEntry(sd.Dict, "N"); n > 0 {
						return "ICCBased", n
					}
				}
			}
			return "ICCBased", 3
		case "Indexed", "I", "Separation", "Pattern":
			return family.Value(), 1
		case "DeviceN":
			if len(cs) > 1 {
				if names, err := d.ctx.Dereference(cs[1]); err == nil {
					if arr, ok := names.(types.Array); ok {
						return "DeviceN", len(arr)
					}
				}
			}
			return "DeviceN", 1
		default:
			return family.Value(), nameComponents(family.Value())
		}
	}
	return "", 0
}

func nameComponents(name string) int {
	switch name {
	case "DeviceGray", "CalGray", "G", "Indexed", "I", "Separation":
		return 1
	case "DeviceRGB", "CalRGB", "RGB", "Lab":
		return 3
	case "DeviceCMYK", "CMYK":
		return 4
	}
	return 0
}

func (d *Document) intEntry(dict types.Dict, key string) int {
	obj, found := dict.Find(key)
	if !found {
		return 0
	}
	o, err := d.ctx.Dereference(obj)
	if err != nil {
		return 0
	}
	switch v := o.(type) {
	case types.Integer:
		return v.Value()
	case types.Float:
		return int(v.Value())
	}
	return 0
}
