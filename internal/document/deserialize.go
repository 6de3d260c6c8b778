package document

import (
	"encoding/json"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/resterr"
)

// Parsed is the outcome of deserializing one inbound resource object:
// typed attribute values plus relationship linkage instructions.
type Parsed struct {
	// ID is the client-supplied primary key, nil when absent.
	ID    any
	Attrs map[string]any
	Rels  map[string]RelInstruction
}

// RelInstruction tells the engine how to link a relationship on write:
// attach existing entities by identifier, or create nested objects
// first and link them.
type RelInstruction struct {
	ToMany bool
	// Null is set when a to-one relationship is explicitly cleared.
	Null   bool
	Attach []Identifier
	Create []*Parsed
}

// Deserializer converts an inbound document fragment into instance
// attributes. Registered per resource type, like Serializer.
type Deserializer interface {
	Deserialize(raw []byte) (*Parsed, error)
}

// DefaultDeserializer validates and decodes documents against a
// descriptor. Field-level failures are collected so one response can
// report every invalid field; identity-level failures (type conflict,
// client-supplied id) short-circuit immediately.
type DefaultDeserializer struct {
	reg *descriptor.Registry
	res *descriptor.Resource
}

var _ Deserializer = (*DefaultDeserializer)(nil)

func NewDeserializer(reg *descriptor.Registry, res *descriptor.Resource) *DefaultDeserializer {
	return &DefaultDeserializer{reg: reg, res: res}
}

type inboundResource struct {
	Type          string                     `json:"type"`
	ID            *string                    `json:"id"`
	Attributes    map[string]any             `json:"attributes"`
	Relationships map[string]json.RawMessage `json:"relationships"`
}

type inboundDocument struct {
	Data *inboundResource `json:"data"`
}

// Deserialize decodes a full top-level document.
func (d *DefaultDeserializer) Deserialize(raw []byte) (*Parsed, error) {
	var doc inboundDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, resterr.MalformedQuery("unable to decode request document")
	}
	if doc.Data == nil {
		return nil, resterr.MalformedQuery(`request document has no "data" member`)
	}
	return d.fragment(d.res, doc.Data)
}

func (d *DefaultDeserializer) fragment(res *descriptor.Resource, in *inboundResource) (*Parsed, error) {
	if in.Type != res.Type {
		return nil, resterr.TypeConflict(in.Type, res.Type)
	}
	out := &Parsed{
		Attrs: make(map[string]any),
		Rels:  make(map[string]RelInstruction),
	}
	// Whether a client may supply the id depends on the operation
	// (creation vs update), so the engine enforces that rule; the
	// deserializer only decodes it.
	if in.ID != nil {
		id, err := ParseID(res, *in.ID)
		if err != nil {
			return nil, resterr.MalformedQuery(err.Error())
		}
		out.ID = id
	}

	var invalid resterr.ValidationErrors
	for name, raw := range in.Attributes {
		attr, ok := res.Attr(name)
		if !ok || name == res.PrimaryKey {
			invalid = append(invalid, resterr.UnknownField(name))
			continue
		}
		v, err := descriptor.CoerceValue(attr, raw)
		if err != nil {
			invalid = append(invalid, resterr.From(err))
			continue
		}
		out.Attrs[name] = v
	}

	for name, raw := range in.Relationships {
		rel, ok := res.Rel(name)
		if !ok {
			invalid = append(invalid, resterr.UnknownRelation(name))
			continue
		}
		inst, err := d.relationship(rel, raw)
		if err != nil {
			if fieldErr := asValidation(err); fieldErr != nil {
				invalid = append(invalid, fieldErr...)
				continue
			}
			return nil, err
		}
		out.Rels[name] = inst
	}

	if len(invalid) > 0 {
		return nil, invalid
	}
	return out, nil
}

func (d *DefaultDeserializer) relationship(rel *descriptor.Relationship, raw json.RawMessage) (RelInstruction, error) {
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Data == nil {
		return RelInstruction{}, resterr.MalformedQuery(
			`relationship object must carry a "data" member`)
	}
	inst := RelInstruction{ToMany: rel.Kind == descriptor.ToMany}

	target, ok := d.reg.Lookup(rel.Target)
	if !ok {
		return RelInstruction{}, resterr.UnknownRelation(rel.Target)
	}

	if inst.ToMany {
		var items []json.RawMessage
		if err := json.Unmarshal(body.Data, &items); err != nil {
			return RelInstruction{}, resterr.MalformedQuery(
				"to-many relationship linkage must be a list")
		}
		for _, item := range items {
			if err := d.linkageItem(target, item, &inst); err != nil {
				return RelInstruction{}, err
			}
		}
		return inst, nil
	}

	if string(body.Data) == "null" {
		inst.Null = true
		return inst, nil
	}
	if err := d.linkageItem(target, body.Data, &inst); err != nil {
		return RelInstruction{}, err
	}
	return inst, nil
}

// linkageItem classifies one linkage value: an identifier attaches an
// existing entity, an object carrying attributes creates a new nested
// one.
func (d *DefaultDeserializer) linkageItem(target *descriptor.Resource, raw json.RawMessage, inst *RelInstruction) error {
	var in inboundResource
	if err := json.Unmarshal(raw, &in); err != nil {
		return resterr.MalformedQuery("relationship linkage must be an object")
	}
	if in.Attributes == nil && in.Relationships == nil {
		if in.ID == nil {
			return resterr.MalformedQuery("relationship identifier is missing an id")
		}
		if in.Type != target.Type {
			return resterr.TypeConflict(in.Type, target.Type)
		}
		inst.Attach = append(inst.Attach, Identifier{Type: in.Type, ID: *in.ID})
		return nil
	}
	nested, err := d.fragment(target, &in)
	if err != nil {
		return err
	}
	inst.Create = append(inst.Create, nested)
	return nil
}

func asValidation(err error) resterr.ValidationErrors {
	if v, ok := err.(resterr.ValidationErrors); ok {
		return v
	}
	return nil
}
