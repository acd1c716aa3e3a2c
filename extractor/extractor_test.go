package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/pdfdoc"
	"github.com/wudi/pdfimages/pdfdoc/pdftest"
)

type fakeDoc struct {
	pages  [][]pdfdoc.ImageInfo
	raws   map[int]pdfdoc.RawImage
	errs   map[int]error
	calls  map[int]int
	closed bool
}

func (f *fakeDoc) PageCount() int { return len(f.pages) }

func (f *fakeDoc) PageImages(page int) ([]pdfdoc.ImageInfo, error) { return f.pages[page], nil }

func (f *fakeDoc) ExtractImage(xref int) (pdfdoc.RawImage, error) {
	if f.calls == nil {
		f.calls = map[int]int{}
	}
	f.calls[xref]++
	if err := f.errs[xref]; err != nil {
		return pdfdoc.RawImage{}, err
	}
	raw, ok := f.raws[xref]
	if !ok {
		return pdfdoc.RawImage{}, errors.New("no such image")
	}
	return raw, nil
}

func (f *fakeDoc) Close() error { f.closed = true; return nil }

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func grayPNG(t *testing.T, w, h int, v uint8) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return pngBytes(t, img)
}

func TestNewImageMetadata(t *testing.T) {
	meta, err := NewImageMetadata(pdfdoc.ImageInfo{Xref: 12, SMask: 13, Width: 40, Height: 30, Bpc: 8, ColorSpace: "DeviceRGB", Name: "Im0", Filter: "FlateDecode"})
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if !meta.HasData() || !meta.HasMask() || meta.MinDimension() != 30 || meta.ImageName != "img00012" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta, _ := NewImageMetadata(pdfdoc.ImageInfo{}); meta.HasData() || meta.HasMask() {
		t.Fatalf("zero xref should have no data: %+v", meta)
	}

	for _, bad := range []pdfdoc.ImageInfo{
		{Xref: -1},
		{Xref: 3, Width: -2},
		{Xref: 3, SMask: -1},
		{Xref: 3, Bpc: -8},
	} {
		if _, err := NewImageMetadata(bad); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}
}

func TestNaming(t *testing.T) {
	if got := Filename(7, "png"); got != "img00007.png" {
		t.Fatalf("Filename = %s", got)
	}
	if got := Filename(123456, "jpg"); got != "img123456.jpg" {
		t.Fatalf("Filename = %s", got)
	}
	if got := ObjectName(3, "img00007.png"); got != "images/page_3/img00007.png" {
		t.Fatalf("ObjectName = %s", got)
	}
}

func TestShouldExtract(t *testing.T) {
	meta := ImageMetadata{Xref: 1, Width: 10, Height: 10}
	tests := []struct {
		name string
		cfg  config.ExtractionConfig
		size int
		comp int
		want bool
	}{
		{"no filters", config.ExtractionConfig{}, 1, 3, true},
		{"dim below", config.ExtractionConfig{DimLimit: 11}, 100, 3, false},
		{"dim equal", config.ExtractionConfig{DimLimit: 10}, 100, 3, true},
		{"abs below", config.ExtractionConfig{AbsSize: 101}, 100, 3, false},
		{"abs equal", config.ExtractionConfig{AbsSize: 100}, 100, 3, true},
		{"rel below", config.ExtractionConfig{RelSize: 0.2}, 30, 3, false},
		{"rel above", config.ExtractionConfig{RelSize: 0.2}, 90, 3, true},
		{"rel unknown components", config.ExtractionConfig{RelSize: 0.9}, 1, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.OutputDir = t.TempDir()
			e, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			img := ExtractedImage{Ext: "png", Components: tc.comp, Data: make([]byte, tc.size)}
			if got := e.ShouldExtract(meta, img); got != tc.want {
				t.Fatalf("ShouldExtract = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRecoverReturnsStoredImage(t *testing.T) {
	doc := &fakeDoc{raws: map[int]pdfdoc.RawImage{4: {Ext: "jpg", Components: 3, Data: []byte("jpeg")}}}
	img, err := Recover(doc, ImageMetadata{Xref: 4}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Ext != "jpg" || img.Components != 3 || string(img.Data) != "jpeg" {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestRecoverConvertsColorSpaceToRGB(t *testing.T) {
	doc := &fakeDoc{raws: map[int]pdfdoc.RawImage{4: {Ext: "png", Components: 1, Data: grayPNG(t, 3, 2, 200)}}}
	img, err := Recover(doc, ImageMetadata{Xref: 4, HasColorSpace: true}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Ext != "png" || img.Components != 3 {
		t.Fatalf("unexpected image: ext=%s comp=%d", img.Ext, img.Components)
	}
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rgba, ok := decoded.(*image.RGBA)
	if !ok {
		t.Fatalf("expected RGB png, got %T", decoded)
	}
	if c := rgba.RGBAAt(1, 1); c.R != 200 || c.G != 200 || c.B != 200 || c.A != 255 {
		t.Fatalf("unexpected pixel %+v", c)
	}
}

func TestRecoverKeepsUndecodableEncoding(t *testing.T) {
	doc := &fakeDoc{raws: map[int]pdfdoc.RawImage{4: {Ext: "jpx", Components: 3, Data: []byte("\x00\x00\x00\x0cjP  ")}}}
	img, err := Recover(doc, ImageMetadata{Xref: 4, HasColorSpace: true}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Ext != "jpx" {
		t.Fatalf("expected stored jpx, got %s", img.Ext)
	}
}

func TestRecoverAppliesSoftMask(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 4; i++ {
		base.Set(i%2, i/2, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	}
	mask := image.NewGray(image.Rect(0, 0, 2, 2))
	mask.Pix = []uint8{0, 64, 128, 255}

	doc := &fakeDoc{raws: map[int]pdfdoc.RawImage{
		4: {Ext: "png", Components: 3, Data: pngBytes(t, base)},
		5: {Ext: "png", Components: 1, Data: pngBytes(t, mask)},
	}}
	img, err := Recover(doc, ImageMetadata{Xref: 4, SMask: 5, HasColorSpace: true}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Ext != "png" || img.Components != 3 {
		t.Fatalf("unexpected image: ext=%s comp=%d", img.Ext, img.Components)
	}
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	nrgba, ok := decoded.(*image.NRGBA)
	if !ok {
		t.Fatalf("expected NRGBA png, got %T", decoded)
	}
	for i, want := range mask.Pix {
		c := nrgba.NRGBAAt(i%2, i/2)
		if c.A != want || c.R != 10 || c.G != 20 || c.B != 30 {
			t.Fatalf("pixel %d = %+v, want alpha %d", i, c, want)
		}
	}
}

func TestRecoverSoftMaskKeepsComponentCount(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 2, 2))
	doc := &fakeDoc{raws: map[int]pdfdoc.RawImage{
		4: {Ext: "png", Components: 4, Data: pngBytes(t, base)},
		5: {Ext: "png", Components: 1, Data: grayPNG(t, 2, 2, 200)},
		6: {Ext: "png", Components: 0, Data: pngBytes(t, base)},
	}}
	img, err := Recover(doc, ImageMetadata{Xref: 4, SMask: 5, HasColorSpace: true}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Ext != "png" || img.Components != 4 {
		t.Fatalf("cmyk base: ext=%s comp=%d, want png with 4", img.Ext, img.Components)
	}

	img, err = Recover(doc, ImageMetadata{Xref: 6, SMask: 5}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Components != 3 {
		t.Fatalf("unknown base components: got %d, want 3", img.Components)
	}
}

func TestRecoverSoftMaskFallsBackToBase(t *testing.T) {
	doc := &fakeDoc{
		raws: map[int]pdfdoc.RawImage{4: {Ext: "jpg", Components: 3, Data: []byte("jpeg")}},
		errs: map[int]error{5: errors.New("broken mask")},
	}
	img, err := Recover(doc, ImageMetadata{Xref: 4, SMask: 5}, nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if img.Ext != "jpg" || string(img.Data) != "jpeg" {
		t.Fatalf("expected base image, got %+v", img)
	}
}

func TestNewCreatesOutputDirectories(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "out")
	if _, err := New(config.ExtractionConfig{OutputDir: out}); err != nil {
		t.Fatalf("new: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(out, "images")); err != nil || !fi.IsDir() {
		t.Fatalf("images dir not created: %v", err)
	}

	if _, err := New(config.ExtractionConfig{OutputDir: out, RelSize: 2}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewWithEmptyOutputDirUsesWorkingDir(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)
	if _, err := New(config.ExtractionConfig{}); err != nil {
		t.Fatalf("new: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(wd, "images")); err != nil || !fi.IsDir() {
		t.Fatalf("images dir not created in working dir: %v", err)
	}
}

func TestExtractAll(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "in.pdf")
	os.WriteFile(pdfPath, []byte("%PDF-1.7"), 0o644)

	img4 := grayPNG(t, 4, 4, 90)
	doc := &fakeDoc{
		pages: [][]pdfdoc.ImageInfo{
			{
				{Xref: 5, Width: 4, Height: 4},
				{Xref: 0},
				{Xref: 7, Width: -1, Height: 4},
				{Xref: 9, Width: 1, Height: 1},
			},
			{
				{Xref: 5, Width: 4, Height: 4},
				{Xref: 11, Width: 4, Height: 4},
				{Xref: 12, Width: 4, Height: 4},
			},
		},
		raws: map[int]pdfdoc.RawImage{
			5:  {Ext: "png", Components: 1, Data: img4},
			9:  {Ext: "png", Components: 1, Data: grayPNG(t, 1, 1, 0)},
			12: {Ext: "jpg", Components: 3, Data: []byte("jpeg-bytes")},
		},
		errs: map[int]error{11: errors.New("corrupt stream")},
	}

	out := filepath.Join(dir, "out")
	e, err := New(config.ExtractionConfig{OutputDir: out, DimLimit: 2},
		WithOpener(func(string) (Document, error) { return doc, nil }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := e.ExtractAll(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("extract all: %v", err)
	}
	if !doc.closed {
		t.Fatalf("document not closed")
	}
	if res.TotalPages != 2 || res.UniqueImagesFound != 6 || res.ImagesExtracted != 2 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	want := []string{
		filepath.Join(out, "images", "page_1", "img00005.png"),
		filepath.Join(out, "images", "page_2", "img00012.jpg"),
	}
	if len(res.ExtractedFiles) != 2 || res.ExtractedFiles[0] != want[0] || res.ExtractedFiles[1] != want[1] {
		t.Fatalf("unexpected files: %v", res.ExtractedFiles)
	}
	for _, f := range want {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("missing %s: %v", f, err)
		}
	}
	if doc.calls[5] != 1 {
		t.Fatalf("duplicate xref extracted %d times", doc.calls[5])
	}
	if len(res.Records) != 2 || len(res.Records[0].Digest) != 64 || res.Records[1].Page != 2 {
		t.Fatalf("unexpected records: %+v", res.Records)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"pdf_path"`, `"unique_images_found":6`, `"extraction_time"`, `"output_directory"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("json %s missing %s", raw, key)
		}
	}
}

func TestExtractAllMissingPDF(t *testing.T) {
	e, err := New(config.ExtractionConfig{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.ExtractAll(context.Background(), "missing.pdf"); !errors.Is(err, ErrPDFNotFound) {
		t.Fatalf("expected ErrPDFNotFound, got %v", err)
	}
}

func TestExtractAllKeepsIdenticalImages(t *testing.T) {
	dir := t.TempDir()
	data := pdftest.Samples(4, 2, 3)
	src := pdftest.Build(pdftest.Page{Images: []pdftest.Image{
		{Name: "Im0", Width: 4, Height: 2, Data: data, X: 50, Y: 600, W: 200, H: 100},
		{Name: "Im1", Width: 4, Height: 2, Data: data, X: 300, Y: 100, W: 150, H: 150},
	}})
	pdfPath := filepath.Join(dir, "twins.pdf")
	if err := os.WriteFile(pdfPath, src.Bytes, 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	e, err := New(config.ExtractionConfig{OutputDir: filepath.Join(dir, "out")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := e.ExtractAll(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("extract all: %v", err)
	}
	if res.UniqueImagesFound != 2 || res.ImagesExtracted != 2 || len(res.Records) != 2 {
		t.Fatalf("identical images merged: %+v", res)
	}
	want := map[string]bool{
		Filename(src.Xrefs["Im0"], "png"): true,
		Filename(src.Xrefs["Im1"], "png"): true,
	}
	for _, rec := range res.Records {
		if !want[rec.Filename] {
			t.Fatalf("unexpected file %s, want one of %v", rec.Filename, want)
		}
		delete(want, rec.Filename)
		if _, err := os.Stat(rec.Location); err != nil {
			t.Fatalf("missing output %s: %v", rec.Location, err)
		}
	}
}

func TestExtractAllFromPDF(t *testing.T) {
	dir := t.TempDir()
	src := pdftest.Build(
		pdftest.Page{Images: []pdftest.Image{
			{Name: "Im0", Width: 8, Height: 8, X: 0, Y: 0, W: 100, H: 100},
			{Name: "Im1", Width: 4, Height: 4, ColorSpace: "DeviceGray", Mask: pdftest.Samples(4, 4, 1), X: 200, Y: 200, W: 50, H: 50},
		}},
		pdftest.Page{Images: []pdftest.Image{
			{Name: "Im0", Width: 8, Height: 8, X: 0, Y: 0, W: 100, H: 100},
		}},
	)
	pdfPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdfPath, src.Bytes, 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	out := filepath.Join(dir, "out")
	e, err := New(config.ExtractionConfig{OutputDir: out})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := e.ExtractAll(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("extract all: %v", err)
	}
	if res.TotalPages != 2 || res.UniqueImagesFound != 2 || res.ImagesExtracted != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, rec := range res.Records {
		if rec.Page != 1 || rec.Ext != "png" {
			t.Fatalf("unexpected record: %+v", rec)
		}
		if _, err := os.Stat(rec.Location); err != nil {
			t.Fatalf("missing output %s: %v", rec.Location, err)
		}
	}
}
