// Package shptest writes small Shapefile datasets for tests.
package shptest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

type Field struct {
	Name     string
	Type     byte
	Length   int
	Decimals int
}

func Char(name string, length int) Field { return Field{Name: name, Type: 'C', Length: length} }
func Num(name string, length, decimals int) Field {
	return Field{Name: name, Type: 'N', Length: length, Decimals: decimals}
}

// Dataset describes one Shapefile. Rows are stored verbatim, so a row may hold
// bytes in any code page; len(Rows) may differ from len(Shapes) on purpose.
type Dataset struct {
	Type       shapefile.ShapeType
	Shapes     []shapefile.Shape
	Fields     []Field
	Rows       [][]string
	Deleted    []int
	NoSHX      bool
	CPG        string
	LanguageID byte
}

// Write creates <dir>/<name>.shp and its siblings and returns the .shp path.
func (d Dataset) Write(tb testing.TB, dir, name string) string {
	tb.Helper()
	stem := filepath.Join(dir, name)

	var content [][]byte
	box := emptyBox()
	for _, s := range d.Shapes {
		content = append(content, encodeShape(s, &box))
	}
	if len(d.Shapes) == 0 {
		box = shapefile.Box{}
	}

	var shp, shx bytes.Buffer
	shpLen := 100
	for _, c := range content {
		shpLen += 8 + len(c)
	}
	writeHeader(&shp, shpLen, d.Type, box)
	writeHeader(&shx, 100+8*len(content), d.Type, box)
	offset := 100
	for i, c := range content {
		be32(&shp, int32(i+1))
		be32(&shp, int32(len(c)/2))
		shp.Write(c)
		be32(&shx, int32(offset/2))
		be32(&shx, int32(len(c)/2))
		offset += 8 + len(c)
	}

	mustWrite(tb, stem+".shp", shp.Bytes())
	if !d.NoSHX {
		mustWrite(tb, stem+".shx", shx.Bytes())
	}
	mustWrite(tb, stem+".dbf", d.dbf())
	if d.CPG != "" {
		mustWrite(tb, stem+".cpg", []byte(d.CPG))
	}
	return stem + ".shp"
}

func (d Dataset) dbf() []byte {
	var b bytes.Buffer
	recLen := 1
	for _, f := range d.Fields {
		recLen += f.Length
	}
	hdrLen := 32 + 32*len(d.Fields) + 1

	b.WriteByte(0x03)
	b.Write([]byte{124, 1, 1}) // YYMMDD
	le32(&b, uint32(len(d.Rows)))
	le16(&b, uint16(hdrLen))
	le16(&b, uint16(recLen))
	pad := make([]byte, 20)
	pad[17] = d.LanguageID
	b.Write(pad)

	for _, f := range d.Fields {
		var desc [32]byte
		copy(desc[:11], f.Name)
		desc[11] = f.Type
		desc[16] = byte(f.Length)
		desc[17] = byte(f.Decimals)
		b.Write(desc[:])
	}
	b.WriteByte(0x0D)

	deleted := map[int]bool{}
	for _, i := range d.Deleted {
		deleted[i] = true
	}
	for i, row := range d.Rows {
		if deleted[i] {
			b.WriteByte('*')
		} else {
			b.WriteByte(' ')
		}
		for j, f := range d.Fields {
			v := ""
			if j < len(row) {
				v = row[j]
			}
			b.WriteString(fit(v, f))
		}
	}
	b.WriteByte(0x1A)
	return b.Bytes()
}

func fit(v string, f Field) string {
	if len(v) > f.Length {
		return v[:f.Length]
	}
	padding := strings.Repeat(" ", f.Length-len(v))
	if f.Type == 'N' || f.Type == 'F' {
		return padding + v
	}
	return v + padding
}

func encodeShape(s shapefile.Shape, box *shapefile.Box) []byte {
	var b bytes.Buffer
	switch g := s.(type) {
	case shapefile.Point:
		le32(&b, uint32(shapefile.TypePoint))
		f64(&b, g.X)
		f64(&b, g.Y)
		grow(box, shapefile.Coord{X: g.X, Y: g.Y})
	case shapefile.PolyLine:
		encodeParts(&b, shapefile.TypePolyLine, g.Parts, box)
	case shapefile.Polygon:
		encodeParts(&b, shapefile.TypePolygon, g.Rings, box)
	case shapefile.Unsupported:
		le32(&b, uint32(g.ShapeType))
	}
	return b.Bytes()
}

func encodeParts(b *bytes.Buffer, t shapefile.ShapeType, parts [][]shapefile.Coord, box *shapefile.Box) {
	own := emptyBox()
	n := 0
	for _, p := range parts {
		for _, c := range p {
			grow(&own, c)
			grow(box, c)
		}
		n += len(p)
	}
	le32(b, uint32(t))
	for _, v := range []float64{own.MinX, own.MinY, own.MaxX, own.MaxY} {
		f64(b, v)
	}
	le32(b, uint32(len(parts)))
	le32(b, uint32(n))
	start := 0
	for _, p := range parts {
		le32(b, uint32(start))
		start += len(p)
	}
	for _, p := range parts {
		for _, c := range p {
			f64(b, c.X)
			f64(b, c.Y)
		}
	}
}

func writeHeader(b *bytes.Buffer, fileLen int, t shapefile.ShapeType, box shapefile.Box) {
	be32(b, 9994)
	b.Write(make([]byte, 20))
	be32(b, int32(fileLen/2))
	le32(b, 1000)
	le32(b, uint32(t))
	for _, v := range []float64{box.MinX, box.MinY, box.MaxX, box.MaxY, 0, 0, 0, 0} {
		f64(b, v)
	}
}

func emptyBox() shapefile.Box {
	return shapefile.Box{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
}

func grow(b *shapefile.Box, c shapefile.Coord) {
	b.MinX = math.Min(b.MinX, c.X)
	b.MinY = math.Min(b.MinY, c.Y)
	b.MaxX = math.Max(b.MaxX, c.X)
	b.MaxY = math.Max(b.MaxY, c.Y)
}

func be32(b *bytes.Buffer, v int32)  { _ = binary.Write(b, binary.BigEndian, v) }
func le32(b *bytes.Buffer, v uint32) { _ = binary.Write(b, binary.LittleEndian, v) }
func le16(b *bytes.Buffer, v uint16) { _ = binary.Write(b, binary.LittleEndian, v) }
func f64(b *bytes.Buffer, v float64) { _ = binary.Write(b, binary.LittleEndian, v) }

func mustWrite(tb testing.TB, path string, data []byte) {
	tb.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}

// Square returns a closed clockwise ring (Shapefile outer winding).
func Square(x, y, size float64) []shapefile.Coord {
	return []shapefile.Coord{{X: x, Y: y}, {X: x, Y: y + size}, {X: x + size, Y: y + size}, {X: x + size, Y: y}, {X: x, Y: y}}
}

// Reverse returns ring with its winding flipped.
func Reverse(ring []shapefile.Coord) []shapefile.Coord {
	out := make([]shapefile.Coord, len(ring))
	for i, c := range ring {
		out[len(ring)-1-i] = c
	}
	return out
}
