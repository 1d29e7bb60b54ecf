// Package apperr defines the error kinds surfaced by the shapefile and tile pipeline.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindSourceNotFound
	KindSourceMalformed
	KindShapeAttributeCountMismatch
	KindUnsupportedGeometry
	KindMalformedGeometry
	KindAttributeDecodeWarning
	KindPathEncoding
	KindToolNotAvailable
	KindTileBuildFailed
	KindServerSpawnFailed
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindSourceNotFound:
		return "SourceNotFound"
	case KindSourceMalformed:
		return "SourceMalformed"
	case KindShapeAttributeCountMismatch:
		return "ShapeAttributeCountMismatch"
	case KindUnsupportedGeometry:
		return "UnsupportedGeometry"
	case KindMalformedGeometry:
		return "MalformedGeometry"
	case KindAttributeDecodeWarning:
		return "AttributeDecodeWarning"
	case KindPathEncoding:
		return "PathEncodingError"
	case KindToolNotAvailable:
		return "ToolNotAvailable"
	case KindTileBuildFailed:
		return "TileBuildFailed"
	case KindServerSpawnFailed:
		return "ServerSpawnFailed"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// sentinels for errors.Is; an *Error matches the sentinel of its Kind
var (
	ErrSourceNotFound              = &Error{Kind: KindSourceNotFound}
	ErrSourceMalformed             = &Error{Kind: KindSourceMalformed}
	ErrShapeAttributeCountMismatch = &Error{Kind: KindShapeAttributeCountMismatch}
	ErrUnsupportedGeometry         = &Error{Kind: KindUnsupportedGeometry}
	ErrMalformedGeometry           = &Error{Kind: KindMalformedGeometry}
	ErrAttributeDecodeWarning      = &Error{Kind: KindAttributeDecodeWarning}
	ErrPathEncoding                = &Error{Kind: KindPathEncoding}
	ErrToolNotAvailable            = &Error{Kind: KindToolNotAvailable}
	ErrTileBuildFailed             = &Error{Kind: KindTileBuildFailed}
	ErrServerSpawnFailed           = &Error{Kind: KindServerSpawnFailed}
	ErrInvalidArgument             = &Error{Kind: KindInvalidArgument}
)

type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Code   int // non-zero exit code, TileBuildFailed only
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == KindTileBuildFailed && e.Code != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.Code)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can test against the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func Newf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Detail: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
