// Package shapefile reads ESRI Shapefiles (.shp/.shx/.dbf/.cpg) record by record.
package shapefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
)

// Result is one record of a Shapefile. A non-nil Err applies to that record
// only; Shape and Record may still be partially populated.
type Result struct {
	Index  int
	Shape  Shape
	Record Record
	Err    error
}

type options struct {
	encoding string
}

type Option func(*options)

// WithEncoding forces the dbf text encoding, ignoring any .cpg file.
func WithEncoding(label string) Option {
	return func(o *options) { o.encoding = label }
}

type Reader struct {
	path   string
	shp    *os.File
	dbf    *os.File
	br     *bufio.Reader
	header Header
	attrs  *dbfReader
	count  int
	next   int
	pos    int64
	end    int64
	done   bool
}

// Stem strips a trailing .shp (any case) from path.
func Stem(path string) string {
	if ext := filepath.Ext(path); strings.EqualFold(ext, ".shp") {
		return strings.TrimSuffix(path, ext)
	}
	return path
}

// Open opens the dataset named by path, with or without the .shp extension.
func Open(path string, opts ...Option) (*Reader, error) {
	const op = "shapefile.Open"
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	stem := Stem(path)
	shpPath, err := sibling(stem, ".shp")
	if err != nil {
		return nil, apperr.New(apperr.KindSourceNotFound, op, stem+".shp", err)
	}
	dbfPath, err := sibling(stem, ".dbf")
	if err != nil {
		return nil, apperr.New(apperr.KindSourceNotFound, op, stem+".dbf", err)
	}

	shp, err := os.Open(shpPath)
	if err != nil {
		return nil, openErr(op, shpPath, err)
	}
	r := &Reader{path: shpPath, shp: shp}

	var hb [shpHeaderSize]byte
	if _, err := io.ReadFull(shp, hb[:]); err != nil {
		_ = r.Close()
		return nil, apperr.New(apperr.KindSourceMalformed, op, shpPath, fmt.Errorf("truncated header: %w", err))
	}
	if r.header, err = parseHeader(hb[:]); err != nil {
		_ = r.Close()
		return nil, apperr.New(apperr.KindSourceMalformed, op, shpPath, err)
	}

	if r.end, err = dataEnd(shp, r.header); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%s: stat %s: %w", op, shpPath, err)
	}
	if r.count, err = recordCount(stem, shp, r.end); err != nil {
		_ = r.Close()
		return nil, apperr.New(apperr.KindSourceMalformed, op, shpPath, err)
	}

	dbf, err := os.Open(dbfPath)
	if err != nil {
		_ = r.Close()
		return nil, openErr(op, dbfPath, err)
	}
	r.dbf = dbf

	var fixed [32]byte
	if _, err := dbf.ReadAt(fixed[:], 0); err != nil {
		_ = r.Close()
		return nil, apperr.New(apperr.KindSourceMalformed, op, dbfPath, fmt.Errorf("dbf header: %w", err))
	}
	enc, err := resolveEncoding(o.encoding, siblingPath(stem, ".cpg"), fixed[29])
	if err != nil {
		_ = r.Close()
		return nil, apperr.New(apperr.KindInvalidArgument, op, dbfPath, err)
	}
	if r.attrs, err = newDBFReader(dbf, enc); err != nil {
		_ = r.Close()
		return nil, apperr.New(apperr.KindSourceMalformed, op, dbfPath, err)
	}

	if r.attrs.header.Records != r.count {
		_ = r.Close()
		return nil, apperr.Newf(apperr.KindShapeAttributeCountMismatch, op, shpPath,
			"%d shapes, %d attribute records", r.count, r.attrs.header.Records)
	}

	if _, err := shp.Seek(shpHeaderSize, io.SeekStart); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%s: seek %s: %w", op, shpPath, err)
	}
	r.br = bufio.NewReaderSize(shp, 64<<10)
	r.pos = shpHeaderSize
	return r, nil
}

func (r *Reader) Path() string         { return r.path }
func (r *Reader) Len() int             { return r.count }
func (r *Reader) ShapeType() ShapeType { return r.header.ShapeType }
func (r *Reader) Bounds() Box          { return r.header.Box }

func (r *Reader) Fields() []Field {
	out := make([]Field, len(r.attrs.header.Fields))
	copy(out, r.attrs.header.Fields)
	return out
}

// Next returns the following record in file order. The second result is
// false once every record has been returned or the stream cannot continue.
func (r *Reader) Next() (Result, bool) {
	if r.done || r.next >= r.count {
		r.done = true
		return Result{}, false
	}
	res := Result{Index: r.next}
	r.next++

	rec, derr := r.attrs.next()
	res.Record = rec

	shape, fatal, serr := r.readShape()
	res.Shape = shape
	switch {
	case serr != nil:
		res.Err = apperr.New(apperr.KindSourceMalformed, "shapefile.Next", r.path, fmt.Errorf("record %d: %w", res.Index, serr))
	case derr != nil:
		res.Err = apperr.New(apperr.KindSourceMalformed, "shapefile.Next", r.path, derr)
	}
	if fatal {
		r.done = true
	}
	return res, true
}

// All iterates the remaining records as (index, result) pairs.
func (r *Reader) All() iter.Seq2[int, Result] {
	return func(yield func(int, Result) bool) {
		for {
			res, ok := r.Next()
			if !ok {
				return
			}
			if !yield(res.Index, res) {
				return
			}
		}
	}
}

// readShape reads one record header and content. fatal reports that the byte
// stream is no longer aligned on a record boundary.
func (r *Reader) readShape() (Shape, bool, error) {
	rh, err := readRecordHeader(r.br)
	if err != nil {
		return nil, true, fmt.Errorf("record header at offset %d: %w", r.pos, err)
	}
	r.pos += recHeaderSize
	if rest := r.end - r.pos; rh.ContentLength < 0 || rh.ContentLength > rest {
		return nil, true, fmt.Errorf("record content at offset %d: length %d exceeds remaining %d bytes", r.pos, rh.ContentLength, rest)
	}
	buf := make([]byte, rh.ContentLength)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, true, fmt.Errorf("record content at offset %d: %w", r.pos, err)
	}
	r.pos += rh.ContentLength
	shape, err := parseShape(buf)
	return shape, false, err
}

func (r *Reader) Close() error {
	var errs []error
	if r.shp != nil {
		errs = append(errs, r.shp.Close())
		r.shp = nil
	}
	if r.dbf != nil {
		errs = append(errs, r.dbf.Close())
		r.dbf = nil
	}
	return errors.Join(errs...)
}

// dataEnd is the offset past the last record byte: the header's file length,
// capped by what is actually on disk.
func dataEnd(shp *os.File, h Header) (int64, error) {
	st, err := shp.Stat()
	if err != nil {
		return 0, err
	}
	end := st.Size()
	if h.FileLength > shpHeaderSize && h.FileLength < end {
		end = h.FileLength
	}
	return end, nil
}

// recordCount prefers the .shx index and falls back to walking .shp record headers.
func recordCount(stem string, shp *os.File, end int64) (int, error) {
	if shx, err := os.Open(siblingPath(stem, ".shx")); err == nil {
		defer shx.Close()
		var hb [shpHeaderSize]byte
		if _, err := io.ReadFull(shx, hb[:]); err == nil {
			if xh, err := parseHeader(hb[:]); err == nil && xh.FileLength >= shpHeaderSize {
				return int((xh.FileLength - shpHeaderSize) / recHeaderSize), nil
			}
		}
	}

	n := 0
	var b [recHeaderSize]byte
	for off := int64(shpHeaderSize); off+recHeaderSize <= end; {
		if _, err := shp.ReadAt(b[:], off); err != nil {
			return 0, fmt.Errorf("scan record %d: %w", n, err)
		}
		n++
		off += recHeaderSize + int64(binary.BigEndian.Uint32(b[4:8]))*2
	}
	return n, nil
}

// sibling finds stem+ext, accepting an upper-case extension as written by
// some Windows tools.
func sibling(stem, ext string) (string, error) {
	for _, p := range []string{stem + ext, stem + strings.ToUpper(ext)} {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}

func siblingPath(stem, ext string) string {
	if p, err := sibling(stem, ext); err == nil {
		return p
	}
	return stem + ext
}

func openErr(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.New(apperr.KindSourceNotFound, op, path, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
