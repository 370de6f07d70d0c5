package frame

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind names the target type of a coercive cast.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindTime
	KindBool
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2006-01-02",
	"20060102",
}

// Normalize converts driver values into the frame's value set.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	default:
		return v
	}
}

// ToFloat converts a cell to float64. Non-numeric values report false.
func ToFloat(v any) (float64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, !math.IsInf(x, 0)
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToInt converts a cell to int64. Floats with a fractional part are rejected.
func ToInt(v any) (int64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	f, ok := ToFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// ToTime converts a cell to time.Time. Naive strings are read as UTC.
func ToTime(v any) (time.Time, bool) {
	switch x := Normalize(v).(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ToString converts a cell to a trimmed string. Nil and blanks report false.
func ToString(v any) (string, bool) {
	switch x := Normalize(v).(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return x.Format(time.RFC3339), true
	}
	return "", false
}

// ToBool converts a cell to bool; numeric values are true when non-zero.
func ToBool(v any) (bool, bool) {
	switch x := Normalize(v).(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err == nil {
			return b, true
		}
	}
	f, ok := ToFloat(v)
	if !ok {
		return false, false
	}
	return f != 0, true
}

// Coerce casts a column in place. Values that cannot be converted become nil.
// It returns the number of non-nil values that were invalidated.
func (f *Frame) Coerce(col string, kind Kind) int {
	j, ok := f.idx[col]
	if !ok {
		return 0
	}
	invalid := 0
	for _, r := range f.rows {
		if r[j] == nil {
			continue
		}
		var (
			out any
			ok  bool
		)
		switch kind {
		case KindString:
			out, ok = ToString(r[j])
		case KindInt:
			out, ok = ToInt(r[j])
		case KindFloat:
			out, ok = ToFloat(r[j])
		case KindTime:
			out, ok = ToTime(r[j])
		case KindBool:
			out, ok = ToBool(r[j])
		}
		if !ok {
			invalid++
			r[j] = nil
			continue
		}
		r[j] = out
	}
	return invalid
}

// CoerceAll casts several columns to the same kind and sums the invalid counts.
func (f *Frame) CoerceAll(kind Kind, cols ...string) int {
	n := 0
	for _, c := range cols {
		n += f.Coerce(c, kind)
	}
	return n
}

// Float returns the float value of a cell.
func (f *Frame) Float(i int, col string) (float64, bool) {
	return ToFloat(f.Get(i, col))
}

// Int returns the integer value of a cell.
func (f *Frame) Int(i int, col string) (int64, bool) {
	return ToInt(f.Get(i, col))
}

// Time returns the time value of a cell.
func (f *Frame) Time(i int, col string) (time.Time, bool) {
	return ToTime(f.Get(i, col))
}

// String returns the string value of a cell.
func (f *Frame) String(i int, col string) (string, bool) {
	return ToString(f.Get(i, col))
}

// FillNull replaces nil cells in col with v.
func (f *Frame) FillNull(col string, v any) {
	j, ok := f.idx[col]
	if !ok {
		f.AddColumn(col, func(int) any { return v })
		return
	}
	v = Normalize(v)
	for _, r := range f.rows {
		if r[j] == nil {
			r[j] = v
		}
	}
}
