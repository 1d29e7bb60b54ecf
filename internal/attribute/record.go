package attribute

import (
	"bytes"
	"encoding/json"

	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

type Entry struct {
	Name  string
	Value Value
}

// Record is an insertion-ordered name to Value map; JSON output keeps that order.
type Record struct {
	entries []Entry
	index   map[string]int
}

func NewRecord(capacity int) *Record {
	return &Record{entries: make([]Entry, 0, capacity), index: make(map[string]int, capacity)}
}

// Set replaces the value of an existing name in place or appends a new entry.
func (r *Record) Set(name string, v Value) {
	if r.index == nil {
		r.index = map[string]int{}
	}
	if i, ok := r.index[name]; ok {
		r.entries[i].Value = v
		return
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Name: name, Value: v})
}

func (r *Record) Get(name string) (Value, bool) {
	if i, ok := r.index[name]; ok {
		return r.entries[i].Value, true
	}
	return Value{}, false
}

func (r *Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

func (r *Record) Len() int         { return len(r.entries) }
func (r *Record) Entries() []Entry { return r.entries }

// Map flattens the record for consumers that do not care about order.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.entries))
	for _, e := range r.entries {
		m[e.Name] = e.Value.Interface()
	}
	return m
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		v, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeRecord decodes every cell of a dbf record in column order.
func DecodeRecord(rec shapefile.Record) (*Record, []*Warning) {
	out := NewRecord(len(rec))
	var warnings []*Warning
	for _, c := range rec {
		v, w := Decode(c.Cell)
		if w != nil {
			w.Field = c.Name
			warnings = append(warnings, w)
		}
		out.Set(c.Name, v)
	}
	return out, warnings
}
