// Package pdfwrite produces image-only PDF documents: one full-page raster
// per page, sized from the image resolution.
package pdfwrite

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"github.com/wudi/scansort/imageio"
)

// Compression selects how page rasters are encoded.
type Compression int

const (
	// Flate stores lossless RGB samples (FlateDecode).
	Flate Compression = iota
	// DCT stores JPEG data (DCTDecode).
	DCT
)

// ErrNoPages is returned when Close is called on a document without pages.
var ErrNoPages = errors.New("document has no pages")

// Config controls document-level settings.
type Config struct {
	Compression Compression
	// JPEGQuality is used with DCT; zero means 90.
	JPEGQuality int
	Title       string
	Producer    string
	// CreationDate is written to the Info dictionary when non-zero.
	CreationDate time.Time
}

type page struct {
	obj Ref
}

// Writer streams objects to an io.Writer as pages are added. The catalog,
// page tree, and cross-reference table are written by Close.
type Writer struct {
	w       *bufio.Writer
	cfg     Config
	offset  int64
	offsets []int64
	pages   []page
	// reserved ahead of time so pages can point at their parent
	pagesRef Ref
	err      error
	closed   bool
}

// NewWriter starts a document on w.
func NewWriter(w io.Writer, cfg Config) *Writer {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	pw := &Writer{w: bufio.NewWriter(w), cfg: cfg}
	pw.write([]byte("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n"))
	pw.pagesRef = pw.reserve()
	return pw
}

func (pw *Writer) write(p []byte) {
	if pw.err != nil {
		return
	}
	n, err := pw.w.Write(p)
	pw.offset += int64(n)
	pw.err = err
}

// reserve allocates an object number whose body is written later.
func (pw *Writer) reserve() Ref {
	pw.offsets = append(pw.offsets, -1)
	return Ref(len(pw.offsets))
}

func (pw *Writer) put(ref Ref, obj Object) {
	pw.offsets[int(ref)-1] = pw.offset
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d 0 obj\n", int(ref))
	obj.writeTo(&b)
	b.WriteString("\nendobj\n")
	pw.write(b.Bytes())
}

func (pw *Writer) add(obj Object) Ref {
	ref := pw.reserve()
	pw.put(ref, obj)
	return ref
}

// PageSize returns the page size in points for an image of the given pixel
// size scanned at dpi.
func PageSize(px image.Point, dpi int) (w, h float64) {
	if dpi <= 0 {
		dpi = 72
	}
	return float64(px.X) * 72 / float64(dpi), float64(px.Y) * 72 / float64(dpi)
}

// AddPage appends a page showing img edge to edge. dpi is the resolution the
// image was rendered at and determines the page size.
func (pw *Writer) AddPage(img image.Image, dpi int) error {
	if pw.closed {
		return errors.New("pdfwrite: writer closed")
	}
	if pw.err != nil {
		return pw.err
	}
	b := img.Bounds()
	if b.Empty() {
		return errors.New("pdfwrite: empty image")
	}
	xobj, err := pw.imageStream(img)
	if err != nil {
		return err
	}
	imgRef := pw.add(xobj)

	w, h := PageSize(b.Size(), dpi)
	content := fmt.Sprintf("q\n%s 0 0 %s 0 0 cm\n/Im0 Do\nQ\n", fmtReal(w), fmtReal(h))
	contentRef := pw.add(Stream{Data: []byte(content)})

	pageRef := pw.add(Dict{
		"Type":     Name("Page"),
		"Parent":   pw.pagesRef,
		"MediaBox": Array{Int(0), Int(0), Real(w), Real(h)},
		"Contents": contentRef,
		"Resources": Dict{
			"XObject": Dict{"Im0": imgRef},
			"ProcSet": Array{Name("PDF"), Name("ImageC")},
		},
	})
	pw.pages = append(pw.pages, page{obj: pageRef})
	return pw.err
}

func fmtReal(f float64) string {
	var b bytes.Buffer
	Real(f).writeTo(&b)
	return b.String()
}

func (pw *Writer) imageStream(img image.Image) (Stream, error) {
	rgb := imageio.ToRGB(img)
	size := rgb.Bounds().Size()
	dict := Dict{
		"Type":             Name("XObject"),
		"Subtype":          Name("Image"),
		"Width":            Int(size.X),
		"Height":           Int(size.Y),
		"ColorSpace":       Name("DeviceRGB"),
		"BitsPerComponent": Int(8),
	}
	var data bytes.Buffer
	switch pw.cfg.Compression {
	case DCT:
		if err := jpeg.Encode(&data, rgb, &jpeg.Options{Quality: pw.cfg.JPEGQuality}); err != nil {
			return Stream{}, fmt.Errorf("pdfwrite: encode jpeg: %w", err)
		}
		dict["Filter"] = Name("DCTDecode")
	default:
		zw := zlib.NewWriter(&data)
		row := make([]byte, size.X*3)
		for y := 0; y < size.Y; y++ {
			src := rgb.Pix[y*rgb.Stride:]
			for x := 0; x < size.X; x++ {
				copy(row[x*3:x*3+3], src[x*4:x*4+3])
			}
			if _, err := zw.Write(row); err != nil {
				return Stream{}, err
			}
		}
		if err := zw.Close(); err != nil {
			return Stream{}, err
		}
		dict["Filter"] = Name("FlateDecode")
	}
	return Stream{Dict: dict, Data: data.Bytes()}, nil
}

// PageCount returns the number of pages added so far.
func (pw *Writer) PageCount() int { return len(pw.pages) }

// Close writes the page tree, catalog, info dictionary, cross-reference
// table, and trailer, then flushes. It does not close the underlying writer.
func (pw *Writer) Close() error {
	if pw.closed {
		return pw.err
	}
	pw.closed = true
	if pw.err != nil {
		return pw.err
	}
	if len(pw.pages) == 0 {
		return ErrNoPages
	}
	kids := make(Array, len(pw.pages))
	for i, p := range pw.pages {
		kids[i] = p.obj
	}
	pw.put(pw.pagesRef, Dict{
		"Type":  Name("Pages"),
		"Kids":  kids,
		"Count": Int(len(pw.pages)),
	})
	catalog := pw.add(Dict{"Type": Name("Catalog"), "Pages": pw.pagesRef})

	info := Dict{}
	if pw.cfg.Title != "" {
		info["Title"] = String(pw.cfg.Title)
	}
	if pw.cfg.Producer != "" {
		info["Producer"] = String(pw.cfg.Producer)
	}
	if !pw.cfg.CreationDate.IsZero() {
		info["CreationDate"] = String(pdfDate(pw.cfg.CreationDate))
	}
	var infoRef Ref
	if len(info) > 0 {
		infoRef = pw.add(info)
	}

	xref := pw.offset
	var b bytes.Buffer
	fmt.Fprintf(&b, "xref\n0 %d\n", len(pw.offsets)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range pw.offsets {
		if off < 0 {
			b.WriteString("0000000000 65535 f \n")
			continue
		}
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	trailer := Dict{"Size": Int(len(pw.offsets) + 1), "Root": catalog}
	if infoRef != 0 {
		trailer["Info"] = infoRef
	}
	b.WriteString("trailer\n")
	trailer.writeTo(&b)
	fmt.Fprintf(&b, "\nstartxref\n%d\n%%%%EOF\n", xref)
	pw.write(b.Bytes())
	if pw.err != nil {
		return pw.err
	}
	return pw.w.Flush()
}

func pdfDate(t time.Time) string {
	_, off := t.Zone()
	sign := byte('+')
	if off < 0 {
		sign = '-'
		off = -off
	}
	if off == 0 {
		return t.Format("D:20060102150405") + "Z"
	}
	return fmt.Sprintf("%s%c%02d'%02d'", t.Format("D:20060102150405"), sign, off/3600, (off%3600)/60)
}
