// Package pdftest builds small uncompressed PDFs with image XObjects for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Image is an image XObject. Images sharing a Name across pages share one object.
type Image struct {
	Name          string
	Width, Height int
	// ColorSpace is DeviceRGB, DeviceGray or DeviceCMYK. Empty means DeviceRGB.
	ColorSpace string
	// Data holds raw 8 bit samples; generated when nil.
	Data []byte
	// Mask, when set, becomes a DeviceGray soft mask of the same size.
	Mask []byte
	// X, Y, W, H place the image on the page. W == 0 leaves it unpainted.
	X, Y, W, H float64
}

type Page struct {
	Width, Height float64
	Images        []Image
}

// Doc is a built PDF together with the object numbers assigned to images.
type Doc struct {
	Bytes []byte
	Xrefs map[string]int
	Masks map[string]int
}

func components(cs string) int {
	switch cs {
	case "DeviceGray":
		return 1
	case "DeviceCMYK":
		return 4
	}
	return 3
}

// Samples returns deterministic raw samples for a w x h image.
func Samples(w, h, comp int) []byte {
	out := make([]byte, w*h*comp)
	for i := range out {
		out[i] = byte(i*37 + 11)
	}
	return out
}

// Build lays out pages with the catalog as object 1 and the page tree as 2.
func Build(pages ...Page) Doc {
	doc := Doc{Xrefs: map[string]int{}, Masks: map[string]int{}}
	objects := map[int][]byte{}
	next := 3

	var kids []string
	for _, p := range pages {
		if p.Width == 0 {
			p.Width, p.Height = 612, 792
		}
		pageNum, contentNum := next, next+1
		next += 2
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))

		var content strings.Builder
		var xobjs []string
		seen := map[string]bool{}
		for _, img := range p.Images {
			num, ok := doc.Xrefs[img.Name]
			if !ok {
				num = next
				next++
				doc.Xrefs[img.Name] = num
				cs := img.ColorSpace
				if cs == "" {
					cs = "DeviceRGB"
				}
				data := img.Data
				if data == nil {
					data = Samples(img.Width, img.Height, components(cs))
				}
				extra := ""
				if img.Mask != nil {
					maskNum := next
					next++
					doc.Masks[img.Name] = maskNum
					extra = fmt.Sprintf(" /SMask %d 0 R", maskNum)
					objects[maskNum] = imageObject(img.Width, img.Height, "DeviceGray", "", img.Mask)
				}
				objects[num] = imageObject(img.Width, img.Height, cs, extra, data)
			}
			if !seen[img.Name] {
				seen[img.Name] = true
				xobjs = append(xobjs, fmt.Sprintf("/%s %d 0 R", img.Name, num))
			}
			if img.W != 0 {
				fmt.Fprintf(&content, "q %s 0 0 %s %s %s cm /%s Do Q\n",
					num2s(img.W), num2s(img.H), num2s(img.X), num2s(img.Y), img.Name)
			}
		}

		resources := "<< >>"
		if len(xobjs) > 0 {
			resources = "<< /XObject << " + strings.Join(xobjs, " ") + " >> >>"
		}
		objects[pageNum] = []byte(fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources %s /Contents %d 0 R >>",
			num2s(p.Width), num2s(p.Height), resources, contentNum))
		objects[contentNum] = stream("", []byte(content.String()))
	}

	objects[1] = []byte("<< /Type /Catalog /Pages 2 0 R >>")
	objects[2] = []byte(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, next)
	for n := 1; n < next; n++ {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", n)
		buf.Write(objects[n])
		buf.WriteString("\nendobj\n")
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", next)
	for n := 1; n < next; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", next, xref)
	doc.Bytes = buf.Bytes()
	return doc
}

func imageObject(w, h int, cs, extra string, data []byte) []byte {
	dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent 8%s", w, h, cs, extra)
	return stream(dict, data)
}

func stream(dict string, data []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< %s /Length %d >>\nstream\n", strings.TrimSpace(dict), len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

func num2s(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
