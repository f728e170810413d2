// Package wire reads loosely typed JSON payloads published by several
// producers that disagree on field naming.
//
// Lookups take the candidate field names in precedence order. The first name
// present with a non-null value wins. A winning value of the wrong type is an
// error; later names are not consulted.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotObject is returned when a payload is not a JSON object.
var ErrNotObject = errors.New("payload is not a JSON object")

// Object is a decoded JSON object with raw member values.
type Object map[string]json.RawMessage

// ParseObject decodes data as a JSON object.
func ParseObject(data []byte) (Object, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var obj Object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObject, err)
	}
	return obj, nil
}

// Split returns the elements of a JSON array, or data itself when it is a
// single value.
func Split(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNotObject
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Raw returns the value of the first present, non-null field.
func (o Object) Raw(names ...string) (json.RawMessage, string, bool) {
	for _, name := range names {
		v, ok := o[name]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		return v, name, true
	}
	return nil, "", false
}

// String reads a string field. Numbers are accepted and formatted.
func (o Object) String(names ...string) (string, bool, error) {
	raw, name, ok := o.Raw(names...)
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true, nil
	}
	return "", false, fmt.Errorf("field %q: not a string", name)
}

// Int reads an integer field. Floats are rounded and numeric strings parsed.
func (o Object) Int(names ...string) (int, bool, error) {
	raw, name, ok := o.Raw(names...)
	if !ok {
		return 0, false, nil
	}
	n, err := toInt(raw)
	if err != nil {
		return 0, false, fmt.Errorf("field %q: %w", name, err)
	}
	return n, true, nil
}

// Counts reads an object of integer counts.
func (o Object) Counts(names ...string) (map[string]int, bool, error) {
	raw, name, ok := o.Raw(names...)
	if !ok {
		return nil, false, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, false, fmt.Errorf("field %q: not an object", name)
	}
	out := make(map[string]int, len(members))
	for k, v := range members {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		n, err := toInt(v)
		if err != nil {
			return nil, false, fmt.Errorf("field %q.%s: %w", name, k, err)
		}
		out[k] = n
	}
	return out, true, nil
}

// Floats reads an array of numbers.
func (o Object) Floats(names ...string) ([]float64, bool, error) {
	raw, name, ok := o.Raw(names...)
	if !ok {
		return nil, false, nil
	}
	var out []float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("field %q: not a number array", name)
	}
	return out, true, nil
}

// Time reads a timestamp field. Strings may be RFC 3339 or zone-less ISO
// local time interpreted in loc; numbers are epoch seconds or milliseconds.
func (o Object) Time(loc *time.Location, names ...string) (time.Time, bool, error) {
	raw, name, ok := o.Raw(names...)
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := ParseTime(raw, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("field %q: %w", name, err)
	}
	return t, true, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses a JSON timestamp value.
func ParseTime(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return time.Time{}, errors.New("not a timestamp")
		}
		return fromEpoch(f), nil
	}

	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// fromEpoch treats values past year 33658 in seconds as milliseconds.
func fromEpoch(v float64) time.Time {
	if math.Abs(v) >= 1e12 {
		return time.UnixMilli(int64(v))
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func toInt(raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(math.Round(f)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return int(math.Round(f)), nil
		}
	}
	return 0, errors.New("not a number")
}
