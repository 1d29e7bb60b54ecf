package shapefile

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// code page numbers seen in .cpg files, mapped to WHATWG labels
var codePages = map[string]string{
	"65001": "utf-8",
	"1250":  "windows-1250",
	"1251":  "windows-1251",
	"1252":  "windows-1252",
	"1253":  "windows-1253",
	"1254":  "windows-1254",
	"1257":  "windows-1257",
	"874":   "windows-874",
	"932":   "shift_jis",
	"936":   "gbk",
	"949":   "euc-kr",
	"950":   "big5",
	"866":   "ibm866",
	"88591": "iso-8859-1",
	"88592": "iso-8859-2",
	"88595": "iso-8859-5",
}

// dBase language driver ids, used when no .cpg is present
var languageDrivers = map[byte]string{
	0x01: "ibm866", // cp437 is not in the WHATWG index
	0x03: "windows-1252",
	0x4D: "gbk",
	0x4E: "euc-kr",
	0x4F: "big5",
	0x57: "windows-1252",
	0x64: "ibm866",
	0x65: "ibm866",
	0x7A: "gbk",
	0x7B: "shift_jis",
	0xC8: "windows-1250",
	0xC9: "windows-1251",
	0xCA: "windows-1254",
	0xCB: "windows-1253",
}

// LookupEncoding resolves a code page label (".cpg" contents, "UTF-8",
// "1252", "GBK", ...) to a decoder. UTF-8 resolves to nil: bytes are passed through.
func LookupEncoding(label string) (encoding.Encoding, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.TrimPrefix(l, "cp")
	l = strings.TrimPrefix(l, "ansi ")
	if l == "" {
		return nil, nil
	}
	if mapped, ok := codePages[strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.TrimPrefix(l, "iso"))]; ok {
		l = mapped
	}
	enc, err := htmlindex.Get(l)
	if err != nil {
		return nil, fmt.Errorf("unknown dbf encoding %q: %w", label, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// resolveEncoding picks the dbf text encoding: explicit override, then the
// .cpg sidecar, then the header language driver, then UTF-8.
func resolveEncoding(override, cpgPath string, languageID byte) (encoding.Encoding, error) {
	if override != "" {
		return LookupEncoding(override)
	}
	if b, err := os.ReadFile(cpgPath); err == nil {
		if enc, err := LookupEncoding(string(b)); err == nil {
			return enc, nil
		}
	}
	if label, ok := languageDrivers[languageID]; ok {
		return LookupEncoding(label)
	}
	return nil, nil
}
