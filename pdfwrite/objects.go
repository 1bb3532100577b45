package pdfwrite

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Object is a direct PDF object that knows how to serialize itself.
type Object interface {
	writeTo(b *bytes.Buffer)
}

// Name object.
type Name string

func (n Name) writeTo(b *bytes.Buffer) {
	b.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte("()<>[]{}/%#", c) >= 0 {
			fmt.Fprintf(b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
}

// Int object.
type Int int64

func (n Int) writeTo(b *bytes.Buffer) { b.WriteString(strconv.FormatInt(int64(n), 10)) }

// Real object.
type Real float64

func (n Real) writeTo(b *bytes.Buffer) {
	b.WriteString(strconv.FormatFloat(float64(n), 'f', -1, 64))
}

// String is a literal string; delimiters and backslashes are escaped.
type String string

func (s String) writeTo(b *bytes.Buffer) {
	b.WriteByte('(')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
}

// Ref points at an indirect object.
type Ref int

func (r Ref) writeTo(b *bytes.Buffer) { fmt.Fprintf(b, "%d 0 R", int(r)) }

// Array object.
type Array []Object

func (a Array) writeTo(b *bytes.Buffer) {
	b.WriteByte('[')
	for i, it := range a {
		if i > 0 {
			b.WriteByte(' ')
		}
		it.writeTo(b)
	}
	b.WriteByte(']')
}

// Dict object. Keys are written sorted so output is deterministic.
type Dict map[Name]Object

func (d Dict) writeTo(b *bytes.Buffer) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	b.WriteString("<<")
	for _, k := range keys {
		Name(k).writeTo(b)
		b.WriteByte(' ')
		d[Name(k)].writeTo(b)
	}
	b.WriteString(">>")
}

// Stream is a dictionary followed by raw data. Length is filled in on write.
type Stream struct {
	Dict Dict
	Data []byte
}

func (s Stream) writeTo(b *bytes.Buffer) {
	d := make(Dict, len(s.Dict)+1)
	for k, v := range s.Dict {
		d[k] = v
	}
	d["Length"] = Int(len(s.Data))
	d.writeTo(b)
	b.WriteString("\nstream\n")
	b.Write(s.Data)
	b.WriteString("\nendstream")
}
