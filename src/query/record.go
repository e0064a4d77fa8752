package query

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
)

// Record is an ordered tuple of column values.
type Record []DataBox

func NewRecord(values ...DataBox) Record {
	return Record(values)
}

func (r Record) Get(col int) (DataBox, error) {
	if col < 0 || col >= len(r) {
		return DataBox{}, errors.Wrapf(ErrColumnOutOfRange, "column %d of a %d-column record", col, len(r))
	}
	return r[col], nil
}

// Concat returns a new record holding the columns of r followed by the
// columns of other.
func (r Record) Concat(other Record) Record {
	res := make(Record, 0, len(r)+len(other))
	res = append(res, r...)
	return append(res, other...)
}

func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if !r[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range r {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Encode writes the record as a JSON object keyed by schema column names.
func (r Record) Encode(e *jx.Encoder, schema Schema) {
	assert.Assert(len(r) == len(schema), "record has %d columns, schema has %d", len(r), len(schema))

	e.ObjStart()
	for i, v := range r {
		e.FieldStart(schema[i].Name)
		v.Encode(e)
	}
	e.ObjEnd()
}

type Column struct {
	Name string
	Kind Kind
}

type Schema []Column

// IndexOf returns the position of the named column.
func (s Schema) IndexOf(name string) (int, error) {
	for i, c := range s {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, errors.Wrapf(ErrUnknownColumn, "%q", name)
}

// Qualified prefixes every column name with "table.".
func (s Schema) Qualified(table string) Schema {
	res := make(Schema, len(s))
	for i, c := range s {
		res[i] = Column{Name: table + "." + c.Name, Kind: c.Kind}
	}
	return res
}

func (s Schema) Concat(other Schema) Schema {
	res := make(Schema, 0, len(s)+len(other))
	res = append(res, s...)
	return append(res, other...)
}

// Check verifies that r matches the schema column by column.
func (s Schema) Check(r Record) error {
	if len(r) != len(s) {
		return errors.Errorf("record has %d columns, schema has %d", len(r), len(s))
	}
	for i, c := range s {
		if r[i].Kind() != c.Kind {
			return errors.Errorf("column %q: expected %s, got %s", c.Name, c.Kind, r[i].Kind())
		}
	}
	return nil
}
