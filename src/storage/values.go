package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueKind enumerates the property value types the kernel understands.
// Equality and ordering of values follow this type system and are
// independent of any storage encoding.
type ValueKind uint8

const (
	KindNoValue ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindPoint
	KindUUID
	KindArray
)

// groupRank orders values of different kinds relative to each other.
// Numbers (int and float) share a rank so that cross-type numeric
// comparison works.
func (k ValueKind) groupRank() int {
	switch k {
	case KindNoValue:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	case KindTime:
		return 4
	case KindPoint:
		return 5
	case KindUUID:
		return 6
	case KindArray:
		return 7
	}
	panic("unsupported value kind: " + fmt.Sprintf("%#v", k))
}

// Value is one immutable property value.
type Value interface {
	Kind() ValueKind

	// Key returns a canonical encoding of the value. Two values are
	// equal iff their keys are equal. Index providers and the sampler
	// use it for distinct-value bucketing.
	Key() string

	fmt.Stringer
}

type (
	BoolValue   bool
	IntValue    int64
	FloatValue  float64
	StringValue string
	TimeValue   time.Time
	UUIDValue   uuid.UUID

	// PointValue is a 2D spatial value.
	PointValue struct {
		X float64
		Y float64
	}

	ArrayValue []Value
)

func (BoolValue) Kind() ValueKind   { return KindBool }
func (IntValue) Kind() ValueKind    { return KindInt }
func (FloatValue) Kind() ValueKind  { return KindFloat }
func (StringValue) Kind() ValueKind { return KindString }
func (TimeValue) Kind() ValueKind   { return KindTime }
func (PointValue) Kind() ValueKind  { return KindPoint }
func (UUIDValue) Kind() ValueKind   { return KindUUID }
func (ArrayValue) Kind() ValueKind  { return KindArray }

// numberKey produces the same key for an int and a float holding the
// same numeric value, so that 12 and 12.0 index identically.
func numberKey(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < (1<<53) {
		return "n:" + strconv.FormatInt(int64(f), 10)
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}

func (v BoolValue) Key() string   { return "b:" + strconv.FormatBool(bool(v)) }
func (v IntValue) Key() string    { return numberKey(float64(v)) }
func (v FloatValue) Key() string  { return numberKey(float64(v)) }
func (v StringValue) Key() string { return "s:" + string(v) }
func (v TimeValue) Key() string {
	return "t:" + time.Time(v).UTC().Format(time.RFC3339Nano)
}
func (v PointValue) Key() string {
	return "p:" + strconv.FormatFloat(v.X, 'g', -1, 64) +
		"," + strconv.FormatFloat(v.Y, 'g', -1, 64)
}
func (v UUIDValue) Key() string { return "u:" + uuid.UUID(v).String() }
func (v ArrayValue) Key() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Key()
	}
	return "a:[" + strings.Join(parts, ";") + "]"
}

func (v BoolValue) String() string   { return strconv.FormatBool(bool(v)) }
func (v IntValue) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v FloatValue) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v StringValue) String() string { return strconv.Quote(string(v)) }
func (v TimeValue) String() string   { return time.Time(v).UTC().Format(time.RFC3339Nano) }
func (v PointValue) String() string  { return fmt.Sprintf("point(%g, %g)", v.X, v.Y) }
func (v UUIDValue) String() string   { return uuid.UUID(v).String() }
func (v ArrayValue) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ValueOf converts a plain Go value into a Value. It is the bridge
// callers use when feeding properties into a transaction.
func ValueOf(raw any) Value {
	switch raw := raw.(type) {
	case Value:
		return raw
	case bool:
		return BoolValue(raw)
	case int:
		return IntValue(raw)
	case int32:
		return IntValue(raw)
	case int64:
		return IntValue(raw)
	case uint32:
		return IntValue(raw)
	case float32:
		return FloatValue(raw)
	case float64:
		return FloatValue(raw)
	case string:
		return StringValue(raw)
	case time.Time:
		return TimeValue(raw)
	case uuid.UUID:
		return UUIDValue(raw)
	case []any:
		arr := make(ArrayValue, len(raw))
		for i, e := range raw {
			arr[i] = ValueOf(e)
		}
		return arr
	}
	panic("unsupported property type: " + fmt.Sprintf("%#v", raw))
}

// CompareValues orders two values. Values of different kind groups are
// ordered by group rank; within the numeric group ints and floats
// compare by numeric value.
func CompareValues(left, right Value) int {
	lr, rr := left.Kind().groupRank(), right.Kind().groupRank()
	if lr != rr {
		if lr < rr {
			return -1
		}
		return 1
	}

	switch l := left.(type) {
	case BoolValue:
		r := right.(BoolValue)
		switch {
		case l == r:
			return 0
		case !bool(l):
			return -1
		default:
			return 1
		}
	case IntValue:
		return compareFloats(float64(l), numericOf(right))
	case FloatValue:
		return compareFloats(float64(l), numericOf(right))
	case StringValue:
		return strings.Compare(string(l), string(right.(StringValue)))
	case TimeValue:
		return time.Time(l).Compare(time.Time(right.(TimeValue)))
	case PointValue:
		r := right.(PointValue)
		if c := compareFloats(l.X, r.X); c != 0 {
			return c
		}
		return compareFloats(l.Y, r.Y)
	case UUIDValue:
		return strings.Compare(uuid.UUID(l).String(), uuid.UUID(right.(UUIDValue)).String())
	case ArrayValue:
		r := right.(ArrayValue)
		for i := 0; i < len(l) && i < len(r); i++ {
			if c := CompareValues(l[i], r[i]); c != 0 {
				return c
			}
		}
		return len(l) - len(r)
	}
	panic("unsupported value type: " + fmt.Sprintf("%#v", left))
}

func numericOf(v Value) float64 {
	switch v := v.(type) {
	case IntValue:
		return float64(v)
	case FloatValue:
		return float64(v)
	}
	panic("not a numeric value: " + fmt.Sprintf("%#v", v))
}

func compareFloats(l, r float64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

func ValuesEqual(left, right Value) bool {
	return CompareValues(left, right) == 0
}

// ValueSliceEqual reports positional equality of two value sequences.
func ValueSliceEqual(left, right []Value) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !ValuesEqual(left[i], right[i]) {
			return false
		}
	}
	return true
}

// CompositeKey concatenates the keys of an ordered value sequence into
// the bucketing key of a (possibly composite) index entry.
func CompositeKey(values []Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Key()
	}
	return strings.Join(parts, "|")
}
