package query

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
)

type Kind string

const (
	KindInt64   Kind = "int64"
	KindFloat64 Kind = "float64"
	KindString  Kind = "string"
	KindBool    Kind = "bool"
	KindUUID    Kind = "uuid"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindInt64, KindFloat64, KindString, KindBool, KindUUID:
		return k, nil
	}
	return "", errors.Errorf("unknown column kind %q", s)
}

func (k Kind) numeric() bool {
	return k == KindInt64 || k == KindFloat64
}

// DataBox is a single typed column value. The zero value is invalid.
type DataBox struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
	u    uuid.UUID
}

func Int64Box(v int64) DataBox {
	return DataBox{kind: KindInt64, i: v}
}

func Float64Box(v float64) DataBox {
	return DataBox{kind: KindFloat64, f: v}
}

func StringBox(v string) DataBox {
	return DataBox{kind: KindString, s: v}
}

func BoolBox(v bool) DataBox {
	return DataBox{kind: KindBool, b: v}
}

func UUIDBox(v uuid.UUID) DataBox {
	return DataBox{kind: KindUUID, u: v}
}

// ParseDataBox reads the textual form of a value of the given kind.
func ParseDataBox(kind Kind, s string) (DataBox, error) {
	switch kind {
	case KindInt64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return DataBox{}, errors.Wrapf(err, "parse int64 %q", s)
		}
		return Int64Box(v), nil
	case KindFloat64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return DataBox{}, errors.Wrapf(err, "parse float64 %q", s)
		}
		return Float64Box(v), nil
	case KindString:
		return StringBox(s), nil
	case KindBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return DataBox{}, errors.Wrapf(err, "parse bool %q", s)
		}
		return BoolBox(v), nil
	case KindUUID:
		v, err := uuid.Parse(s)
		if err != nil {
			return DataBox{}, errors.Wrapf(err, "parse uuid %q", s)
		}
		return UUIDBox(v), nil
	}
	return DataBox{}, errors.Errorf("unknown column kind %q", kind)
}

func (d DataBox) Kind() Kind {
	return d.kind
}

func (d DataBox) IsValid() bool {
	return d.kind != ""
}

// Value returns the boxed Go value.
func (d DataBox) Value() any {
	switch d.kind {
	case KindInt64:
		return d.i
	case KindFloat64:
		return d.f
	case KindString:
		return d.s
	case KindBool:
		return d.b
	case KindUUID:
		return d.u
	}
	return nil
}

// compareIntFloat orders an int64 against a float64 exactly. Converting the
// integer to float64 would round above 2^53.
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		// NaN sorts below every number, as cmp.Compare does
		return 1
	case f >= math.MaxInt64:
		// float64(math.MaxInt64) is 2^63
		return -1
	case f < math.MinInt64:
		return 1
	}

	whole := math.Trunc(f)
	if c := cmp.Compare(i, int64(whole)); c != 0 {
		return c
	}
	return cmp.Compare(whole, f)
}

// Compare orders two values of the same kind. int64 and float64 values are
// compared numerically; any other mix of kinds is ErrIncomparable.
func (d DataBox) Compare(other DataBox) (int, error) {
	if d.kind != other.kind {
		if d.kind.numeric() && other.kind.numeric() {
			if d.kind == KindInt64 {
				return compareIntFloat(d.i, other.f), nil
			}
			return -compareIntFloat(other.i, d.f), nil
		}
		return 0, errors.Wrapf(ErrIncomparable, "%s vs %s", d.kind, other.kind)
	}

	switch d.kind {
	case KindInt64:
		return cmp.Compare(d.i, other.i), nil
	case KindFloat64:
		return cmp.Compare(d.f, other.f), nil
	case KindString:
		return cmp.Compare(d.s, other.s), nil
	case KindBool:
		switch {
		case d.b == other.b:
			return 0, nil
		case !d.b:
			return -1, nil
		default:
			return 1, nil
		}
	case KindUUID:
		return bytes.Compare(d.u[:], other.u[:]), nil
	}
	return 0, errors.Wrap(ErrIncomparable, "invalid value")
}

// Equal reports whether both values have the same kind and value.
func (d DataBox) Equal(other DataBox) bool {
	if d.kind != other.kind {
		return false
	}
	c, err := d.Compare(other)
	return err == nil && c == 0
}

func (d DataBox) String() string {
	switch d.kind {
	case KindInt64:
		return strconv.FormatInt(d.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(d.f, 'g', -1, 64)
	case KindString:
		return d.s
	case KindBool:
		return strconv.FormatBool(d.b)
	case KindUUID:
		return d.u.String()
	}
	return "<invalid>"
}

func (d DataBox) GoString() string {
	return fmt.Sprintf("%s(%s)", d.kind, d.String())
}

// Encode writes the value as a JSON scalar.
func (d DataBox) Encode(e *jx.Encoder) {
	switch d.kind {
	case KindInt64:
		e.Int64(d.i)
	case KindFloat64:
		e.Float64(d.f)
	case KindString:
		e.Str(d.s)
	case KindBool:
		e.Bool(d.b)
	case KindUUID:
		e.Str(d.u.String())
	default:
		assert.Unreachable("encoding an invalid data box")
	}
}
