package document

import (
	"encoding/json"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/resterr"
)

// ParseLinkage decodes the body of a relationship endpoint request:
// {"data": identifier | [identifier] | null}. The identifiers are
// type-checked against the relationship's target. null reports
// explicit clearing of a to-one relationship.
func ParseLinkage(rel *descriptor.Relationship, raw []byte) (ids []Identifier, null bool, err error) {
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Data == nil {
		return nil, false, resterr.MalformedQuery(`relationship request must carry a "data" member`)
	}
	if string(body.Data) == "null" {
		if rel.Kind == descriptor.ToMany {
			return nil, false, resterr.MalformedQuery("to-many relationship linkage cannot be null")
		}
		return nil, true, nil
	}
	if rel.Kind == descriptor.ToMany {
		var items []Identifier
		if err := json.Unmarshal(body.Data, &items); err != nil {
			return nil, false, resterr.MalformedQuery("to-many relationship linkage must be a list")
		}
		for _, item := range items {
			if item.Type != rel.Target {
				return nil, false, resterr.TypeConflict(item.Type, rel.Target)
			}
		}
		return items, false, nil
	}
	var item Identifier
	if err := json.Unmarshal(body.Data, &item); err != nil {
		return nil, false, resterr.MalformedQuery("to-one relationship linkage must be an identifier")
	}
	if item.Type != rel.Target {
		return nil, false, resterr.TypeConflict(item.Type, rel.Target)
	}
	return []Identifier{item}, false, nil
}
