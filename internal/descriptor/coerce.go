package descriptor

import (
	"fmt"
	"math"
	"time"

	"github.com/hanpama/restframe/internal/resterr"
)

const dateLayout = "2006-01-02"

// CoerceValue converts a decoded JSON value into the typed in-memory
// representation of the attribute's semantic type. Lists coerce
// element-wise, which covers set operators like "in". A shape that
// disagrees with the attribute type is a TypeMismatch.
func CoerceValue(attr *Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if list, ok := raw.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			v, err := CoerceValue(attr, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	switch attr.Type {
	case Integer:
		n, ok := raw.(float64)
		if !ok || n != math.Trunc(n) {
			return nil, mismatch(attr, raw, "an integer")
		}
		return int64(n), nil
	case Float:
		n, ok := raw.(float64)
		if !ok {
			return nil, mismatch(attr, raw, "a number")
		}
		return n, nil
	case String:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(attr, raw, "a string")
		}
		return s, nil
	case Boolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, mismatch(attr, raw, "a boolean")
		}
		return b, nil
	case Date:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(attr, raw, "a date string")
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, mismatch(attr, raw, "a date in YYYY-MM-DD form")
		}
		return t, nil
	case DateTime:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(attr, raw, "a datetime string")
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, mismatch(attr, raw, "an RFC 3339 datetime")
		}
		return t, nil
	case Duration:
		switch v := raw.(type) {
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, mismatch(attr, raw, "a duration")
			}
			return d, nil
		}
		return nil, mismatch(attr, raw, "a duration in seconds or duration string")
	}
	return nil, resterr.TypeMismatch(attr.Name,
		fmt.Sprintf("attribute %q has unsupported type %q", attr.Name, attr.Type))
}

// EncodeValue renders a typed in-memory value into its wire form:
// dates as YYYY-MM-DD, datetimes as RFC 3339, durations as seconds.
func EncodeValue(attr *Attribute, v any) any {
	if v == nil {
		return nil
	}
	switch attr.Type {
	case Date:
		if t, ok := v.(time.Time); ok {
			return t.Format(dateLayout)
		}
	case DateTime:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339)
		}
	case Duration:
		if d, ok := v.(time.Duration); ok {
			return d.Seconds()
		}
	}
	return v
}

func mismatch(attr *Attribute, raw any, want string) error {
	return resterr.TypeMismatch(attr.Name,
		fmt.Sprintf("attribute %q expects %s, got %T", attr.Name, want, raw))
}
