package shapefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
)

type CellKind int

const (
	KindUnknown CellKind = iota
	KindCharacter
	KindNumeric
	KindFloat
	KindLogical
	KindDate
)

func (k CellKind) String() string {
	switch k {
	case KindCharacter:
		return "Character"
	case KindNumeric:
		return "Numeric"
	case KindFloat:
		return "Float"
	case KindLogical:
		return "Logical"
	case KindDate:
		return "Date"
	default:
		return "Unknown"
	}
}

func kindOf(t byte) CellKind {
	switch t {
	case 'C':
		return KindCharacter
	case 'N':
		return KindNumeric
	case 'F':
		return KindFloat
	case 'L':
		return KindLogical
	case 'D':
		return KindDate
	default:
		return KindUnknown
	}
}

type Field struct {
	Name     string
	Type     byte // dBase type letter
	Kind     CellKind
	Length   int
	Decimals int
}

// Cell is one decoded dbf value. Text always carries the trimmed stored
// lexeme; Num and Bool are set only when the lexeme parses for the kind.
type Cell struct {
	Kind CellKind
	Text string
	Num  *float64
	Bool *bool
	Null bool
}

// NamedCell pairs a cell with its column name; a Record keeps file column order.
type NamedCell struct {
	Name string
	Cell
}

type Record []NamedCell

func (r Record) Get(name string) (Cell, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Cell, true
		}
	}
	return Cell{}, false
}

const (
	dbfFieldTerminator = 0x0D
	dbfEOF             = 0x1A
	dbfDescriptorSize  = 32
)

type dbfHeader struct {
	Records      int
	HeaderLength int
	RecordLength int
	LanguageID   byte
	Fields       []Field
}

func readDBFHeader(r io.Reader) (dbfHeader, error) {
	var fixed [32]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return dbfHeader{}, fmt.Errorf("dbf header: %w", err)
	}
	h := dbfHeader{
		Records:      int(binary.LittleEndian.Uint32(fixed[4:8])),
		HeaderLength: int(binary.LittleEndian.Uint16(fixed[8:10])),
		RecordLength: int(binary.LittleEndian.Uint16(fixed[10:12])),
		LanguageID:   fixed[29],
	}
	if h.HeaderLength < 33 || h.RecordLength < 1 {
		return dbfHeader{}, fmt.Errorf("dbf header: header length %d, record length %d", h.HeaderLength, h.RecordLength)
	}

	consumed := 32
	width := 1 // deletion flag
	var desc [dbfDescriptorSize]byte
	for {
		if _, err := io.ReadFull(r, desc[:1]); err != nil {
			return dbfHeader{}, fmt.Errorf("dbf field descriptors: %w", err)
		}
		consumed++
		if desc[0] == dbfFieldTerminator {
			break
		}
		if _, err := io.ReadFull(r, desc[1:]); err != nil {
			return dbfHeader{}, fmt.Errorf("dbf field descriptors: %w", err)
		}
		consumed += dbfDescriptorSize - 1
		name := desc[:11]
		if i := strings.IndexByte(string(name), 0); i >= 0 {
			name = name[:i]
		}
		f := Field{
			Name:     strings.TrimSpace(string(name)),
			Type:     desc[11],
			Kind:     kindOf(desc[11]),
			Length:   int(desc[16]),
			Decimals: int(desc[17]),
		}
		width += f.Length
		h.Fields = append(h.Fields, f)
		if consumed > h.HeaderLength {
			return dbfHeader{}, errors.New("dbf field descriptors run past header length")
		}
	}
	if width != h.RecordLength {
		return dbfHeader{}, fmt.Errorf("dbf fields span %d bytes, header says %d", width, h.RecordLength)
	}
	// skip any padding between the terminator and the first record
	if pad := h.HeaderLength - consumed; pad > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return dbfHeader{}, fmt.Errorf("dbf header padding: %w", err)
		}
	}
	return h, nil
}

type dbfReader struct {
	br     *bufio.Reader
	header dbfHeader
	dec    *encoding.Decoder
	buf    []byte
	read   int
}

func newDBFReader(r io.Reader, enc encoding.Encoding) (*dbfReader, error) {
	br := bufio.NewReader(r)
	h, err := readDBFHeader(br)
	if err != nil {
		return nil, err
	}
	d := &dbfReader{br: br, header: h, buf: make([]byte, h.RecordLength)}
	if enc != nil {
		d.dec = enc.NewDecoder()
	}
	return d, nil
}

// next reads the following record. Deleted records keep their slot and come
// back with every cell null.
func (d *dbfReader) next() (Record, error) {
	if d.read >= d.header.Records {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(d.br, d.buf); err != nil {
		if errors.Is(err, io.EOF) && len(d.buf) > 0 {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("dbf record %d: %w", d.read, err)
	}
	d.read++
	if d.buf[0] == dbfEOF {
		return nil, fmt.Errorf("dbf record %d: premature end-of-file marker", d.read-1)
	}
	deleted := d.buf[0] == '*'

	rec := make(Record, 0, len(d.header.Fields))
	off := 1
	for _, f := range d.header.Fields {
		raw := d.buf[off : off+f.Length]
		off += f.Length
		if deleted {
			rec = append(rec, NamedCell{Name: f.Name, Cell: Cell{Kind: f.Kind, Null: true}})
			continue
		}
		rec = append(rec, NamedCell{Name: f.Name, Cell: d.cell(f, raw)})
	}
	return rec, nil
}

func (d *dbfReader) cell(f Field, raw []byte) Cell {
	c := Cell{Kind: f.Kind}
	switch f.Kind {
	case KindCharacter:
		text := strings.TrimRight(d.text(raw), " \x00")
		if text == "" {
			c.Null = true
			return c
		}
		c.Text = text
	case KindNumeric, KindFloat:
		text := strings.TrimSpace(strings.Trim(string(raw), "\x00"))
		if text == "" || strings.Trim(text, "*") == "" {
			c.Null = true
			return c
		}
		c.Text = text
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			c.Num = &v
		}
	case KindLogical:
		text := strings.TrimSpace(string(raw))
		var b bool
		switch text {
		case "Y", "y", "T", "t":
			b = true
		case "N", "n", "F", "f":
			b = false
		default:
			c.Null = true
			return c
		}
		c.Text = strconv.FormatBool(b)
		c.Bool = &b
	case KindDate:
		text := strings.TrimSpace(strings.Trim(string(raw), "\x00"))
		if text == "" || strings.Trim(text, "0") == "" {
			c.Null = true
			return c
		}
		c.Text = isoDate(text)
	default:
		text := strings.TrimSpace(d.text(raw))
		if text == "" {
			c.Null = true
			return c
		}
		c.Text = text
	}
	return c
}

func (d *dbfReader) text(raw []byte) string {
	if d.dec == nil {
		return string(raw)
	}
	out, err := d.dec.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// isoDate turns YYYYMMDD into YYYY-MM-DD and leaves anything else as stored.
func isoDate(s string) string {
	if len(s) != 8 {
		return s
	}
	for i := 0; i < 8; i++ {
		if s[i] < '0' || s[i] > '9' {
			return s
		}
	}
	return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
}
