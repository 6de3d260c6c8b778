package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/store"
	"github.com/hanpama/restframe/internal/store/sqlgen"
)

// scanEntities decodes rows laid out per sqlgen.ScanColumns back into
// typed attribute values.
func scanEntities(res *descriptor.Resource, rows *sql.Rows) ([]store.Entity, error) {
	cols := sqlgen.ScanColumns(res)
	var out []store.Entity
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlstore: scan %s: %w", res.Type, err)
		}
		ent := store.Entity{Type: res.Type, Attrs: make(map[string]any, len(cols)-1)}
		for i, col := range cols {
			v, err := decodeValue(&cols[i], raw[i])
			if err != nil {
				return nil, fmt.Errorf("sqlstore: %s.%s: %w", res.Type, col.Name, err)
			}
			if i == 0 {
				ent.ID = v
				if col.Name != res.PrimaryKey {
					ent.Attrs[col.Name] = v
				}
				continue
			}
			ent.Attrs[col.Name] = v
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// decodeValue converts a driver value to the in-memory representation
// of the attribute's semantic type.
func decodeValue(attr *descriptor.Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch attr.Type {
	case descriptor.Integer:
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
		return n, nil
	case descriptor.Float:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
		return nil, fmt.Errorf("expected float, got %T", raw)
	case descriptor.String:
		s, ok := asString(raw)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case descriptor.Boolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", raw)
	case descriptor.Date, descriptor.DateTime:
		if t, ok := raw.(time.Time); ok {
			return t, nil
		}
		s, ok := asString(raw)
		if !ok {
			return nil, fmt.Errorf("expected time text, got %T", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t, nil
	case descriptor.Duration:
		switch v := raw.(type) {
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case int64:
			return time.Duration(v) * time.Second, nil
		}
		return nil, fmt.Errorf("expected duration seconds, got %T", raw)
	}
	return raw, nil
}

func asString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}
