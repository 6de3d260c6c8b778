package document

import (
	"fmt"
	"strconv"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/store"
)

// Visibility restricts the attribute and relationship fields of a
// serialized resource. Only and Exclude are server-side rules; Fields
// is the client's sparse fieldset for the resource's type (nil means
// unrestricted). The identity fields type and id are exempt from all
// three.
type Visibility struct {
	Only    []string
	Exclude []string
	Fields  []string
}

// Allows reports whether a field survives the visibility rule.
func (v Visibility) Allows(name string) bool {
	if v.Only != nil && !contains(v.Only, name) {
		return false
	}
	if contains(v.Exclude, name) {
		return false
	}
	if v.Fields != nil && !contains(v.Fields, name) {
		return false
	}
	return true
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

// Serializer converts one entity into a resource object. Implementations
// are registered per resource type; the engine only depends on this
// capability.
type Serializer interface {
	Serialize(e store.Entity, rels map[string]Relationship, vis Visibility) (Resource, error)
}

// DefaultSerializer serializes entities according to their descriptor.
type DefaultSerializer struct {
	res *descriptor.Resource
	// Additional injects computed, non-stored values into attributes.
	// Additional fields obey visibility rules like stored ones.
	Additional map[string]func(store.Entity) any
}

var _ Serializer = (*DefaultSerializer)(nil)

func NewSerializer(res *descriptor.Resource) *DefaultSerializer {
	return &DefaultSerializer{res: res}
}

func (s *DefaultSerializer) Serialize(e store.Entity, rels map[string]Relationship, vis Visibility) (Resource, error) {
	out := Resource{
		Type:       s.res.Type,
		ID:         IDString(e.ID),
		Attributes: make(map[string]any),
	}
	for i := range s.res.Attributes {
		attr := &s.res.Attributes[i]
		if attr.Name == s.res.PrimaryKey || !vis.Allows(attr.Name) {
			continue
		}
		v, ok := e.Attrs[attr.Name]
		if !ok {
			continue
		}
		out.Attributes[attr.Name] = descriptor.EncodeValue(attr, v)
	}
	for name, fn := range s.Additional {
		if vis.Allows(name) {
			out.Attributes[name] = fn(e)
		}
	}
	if len(out.Attributes) == 0 {
		out.Attributes = nil
	}
	if len(rels) > 0 {
		out.Relationships = make(map[string]Relationship, len(rels))
		for name, rel := range rels {
			if vis.Allows(name) {
				out.Relationships[name] = rel
			}
		}
		if len(out.Relationships) == 0 {
			out.Relationships = nil
		}
	}
	return out, nil
}

// IDString renders a primary-key value as the wire id string.
func IDString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseID converts a wire id string back to the primary key's typed
// value.
func ParseID(res *descriptor.Resource, id string) (any, error) {
	attr, _ := res.Attr(res.PrimaryKey)
	if attr != nil && attr.Type == descriptor.Integer {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("document: id %q is not an integer", id)
		}
		return n, nil
	}
	return id, nil
}
