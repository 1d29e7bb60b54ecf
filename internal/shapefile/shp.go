package shapefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

type ShapeType int32

const (
	TypeNull        ShapeType = 0
	TypePoint       ShapeType = 1
	TypePolyLine    ShapeType = 3
	TypePolygon     ShapeType = 5
	TypeMultiPoint  ShapeType = 8
	TypePointZ      ShapeType = 11
	TypePolyLineZ   ShapeType = 13
	TypePolygonZ    ShapeType = 15
	TypeMultiPointZ ShapeType = 18
	TypePointM      ShapeType = 21
	TypePolyLineM   ShapeType = 23
	TypePolygonM    ShapeType = 25
	TypeMultiPointM ShapeType = 28
	TypeMultiPatch  ShapeType = 31
)

func (t ShapeType) String() string {
	switch t {
	case TypeNull:
		return "Null"
	case TypePoint:
		return "Point"
	case TypePolyLine:
		return "PolyLine"
	case TypePolygon:
		return "Polygon"
	case TypeMultiPoint:
		return "MultiPoint"
	case TypePointZ:
		return "PointZ"
	case TypePolyLineZ:
		return "PolyLineZ"
	case TypePolygonZ:
		return "PolygonZ"
	case TypeMultiPointZ:
		return "MultiPointZ"
	case TypePointM:
		return "PointM"
	case TypePolyLineM:
		return "PolyLineM"
	case TypePolygonM:
		return "PolygonM"
	case TypeMultiPointM:
		return "MultiPointM"
	case TypeMultiPatch:
		return "MultiPatch"
	default:
		return fmt.Sprintf("ShapeType(%d)", int32(t))
	}
}

func (t ShapeType) known() bool {
	switch t {
	case TypeNull, TypePoint, TypePolyLine, TypePolygon, TypeMultiPoint,
		TypePointZ, TypePolyLineZ, TypePolygonZ, TypeMultiPointZ,
		TypePointM, TypePolyLineM, TypePolygonM, TypeMultiPointM, TypeMultiPatch:
		return true
	}
	return false
}

type Coord struct {
	X, Y float64
}

type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// Shape is a raw geometry record as stored in the .shp file.
type Shape interface {
	Type() ShapeType
}

type Point struct {
	X, Y float64
}

func (Point) Type() ShapeType { return TypePoint }

type PolyLine struct {
	Box   Box
	Parts [][]Coord
}

func (PolyLine) Type() ShapeType { return TypePolyLine }

// Polygon keeps rings in file order; ring roles are decided by winding later.
type Polygon struct {
	Box   Box
	Rings [][]Coord
}

func (Polygon) Type() ShapeType { return TypePolygon }

// Unsupported is any shape type outside Point/PolyLine/Polygon. The content
// bytes are skipped, only the declared type is kept.
type Unsupported struct {
	ShapeType ShapeType
}

func (u Unsupported) Type() ShapeType { return u.ShapeType }

const (
	shpFileCode   = 9994
	shpVersion    = 1000
	shpHeaderSize = 100
	recHeaderSize = 8
)

type Header struct {
	FileLength int64 // bytes
	ShapeType  ShapeType
	Box        Box
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < shpHeaderSize {
		return Header{}, errors.New("header shorter than 100 bytes")
	}
	if code := int32(binary.BigEndian.Uint32(b[0:4])); code != shpFileCode {
		return Header{}, fmt.Errorf("bad file code %d", code)
	}
	if v := int32(binary.LittleEndian.Uint32(b[28:32])); v != shpVersion {
		return Header{}, fmt.Errorf("bad version %d", v)
	}
	st := ShapeType(int32(binary.LittleEndian.Uint32(b[32:36])))
	if !st.known() {
		return Header{}, fmt.Errorf("unknown shape type %d", int32(st))
	}
	return Header{
		FileLength: int64(binary.BigEndian.Uint32(b[24:28])) * 2,
		ShapeType:  st,
		Box: Box{
			MinX: f64le(b[36:44]),
			MinY: f64le(b[44:52]),
			MaxX: f64le(b[52:60]),
			MaxY: f64le(b[60:68]),
		},
	}, nil
}

type recordHeader struct {
	Number        int32
	ContentLength int64 // bytes
}

func readRecordHeader(r io.Reader) (recordHeader, error) {
	var b [recHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return recordHeader{}, err
	}
	return recordHeader{
		Number:        int32(binary.BigEndian.Uint32(b[0:4])),
		ContentLength: int64(binary.BigEndian.Uint32(b[4:8])) * 2,
	}, nil
}

// parseShape decodes one record's content block.
func parseShape(b []byte) (Shape, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("record content too short (%d bytes)", len(b))
	}
	st := ShapeType(int32(binary.LittleEndian.Uint32(b[0:4])))
	body := b[4:]
	switch st {
	case TypePoint:
		if len(body) < 16 {
			return nil, fmt.Errorf("point record too short (%d bytes)", len(body))
		}
		return Point{X: f64le(body[0:8]), Y: f64le(body[8:16])}, nil
	case TypePolyLine:
		box, parts, err := parseParts(body)
		if err != nil {
			return nil, fmt.Errorf("polyline: %w", err)
		}
		return PolyLine{Box: box, Parts: parts}, nil
	case TypePolygon:
		box, rings, err := parseParts(body)
		if err != nil {
			return nil, fmt.Errorf("polygon: %w", err)
		}
		return Polygon{Box: box, Rings: rings}, nil
	default:
		if !st.known() {
			return nil, fmt.Errorf("unknown shape type %d", int32(st))
		}
		return Unsupported{ShapeType: st}, nil
	}
}

// layout: box[4]f64, numParts i32, numPoints i32, parts[numParts]i32, points[numPoints]{f64,f64}
func parseParts(b []byte) (Box, [][]Coord, error) {
	if len(b) < 40 {
		return Box{}, nil, fmt.Errorf("content too short (%d bytes)", len(b))
	}
	box := Box{MinX: f64le(b[0:8]), MinY: f64le(b[8:16]), MaxX: f64le(b[16:24]), MaxY: f64le(b[24:32])}
	numParts := int(int32(binary.LittleEndian.Uint32(b[32:36])))
	numPoints := int(int32(binary.LittleEndian.Uint32(b[36:40])))
	if numParts < 0 || numPoints < 0 {
		return Box{}, nil, fmt.Errorf("negative counts parts=%d points=%d", numParts, numPoints)
	}
	need := 40 + 4*numParts + 16*numPoints
	if len(b) < need {
		return Box{}, nil, fmt.Errorf("declares %d parts/%d points but has %d bytes", numParts, numPoints, len(b))
	}
	starts := make([]int, numParts)
	for i := range numParts {
		off := 40 + 4*i
		starts[i] = int(int32(binary.LittleEndian.Uint32(b[off : off+4])))
	}
	pts := b[40+4*numParts:]
	parts := make([][]Coord, 0, numParts)
	for i, start := range starts {
		end := numPoints
		if i+1 < numParts {
			end = starts[i+1]
		}
		if start < 0 || start > end || end > numPoints {
			return Box{}, nil, fmt.Errorf("part %d has invalid range [%d,%d) of %d points", i, start, end, numPoints)
		}
		part := make([]Coord, 0, end-start)
		for p := start; p < end; p++ {
			off := 16 * p
			part = append(part, Coord{X: f64le(pts[off : off+8]), Y: f64le(pts[off+8 : off+16])})
		}
		parts = append(parts, part)
	}
	return box, parts, nil
}

func f64le(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
