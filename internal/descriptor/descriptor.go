// Package descriptor holds the static per-type metadata the rest of the
// engine resolves field references against. Descriptors are built once at
// registration time and treated as immutable afterwards; all field and
// relationship lookups go through them instead of runtime reflection.
package descriptor

import "fmt"

// FieldType is the semantic type of an attribute.
type FieldType string

const (
	Integer  FieldType = "integer"
	Float    FieldType = "float"
	String   FieldType = "string"
	Boolean  FieldType = "boolean"
	Date     FieldType = "date"
	DateTime FieldType = "datetime"
	Duration FieldType = "duration"
)

// Attribute describes one stored field of a resource.
type Attribute struct {
	Name string
	Type FieldType
}

// RelKind distinguishes single-valued from multi-valued relationships.
type RelKind string

const (
	ToOne  RelKind = "to-one"
	ToMany RelKind = "to-many"
)

// Relationship describes a declared relationship field.
type Relationship struct {
	Name     string
	Kind     RelKind
	Target   string
	Nullable bool

	// LocalColumn is the foreign-key column on the owning table for a
	// to-one relationship. Defaults to "<name>_id".
	LocalColumn string
	// RemoteColumn is the foreign-key column on the target table that
	// points back at the owner, for a to-many relationship. Defaults to
	// "<owner type>_id".
	RemoteColumn string

	// Via marks a composed relationship: the apparent relationship is
	// the composition of the Through relationship on the owner and the
	// Hop relationship on the intermediate type. The intermediate type
	// itself is never serialized.
	Via *Composition
}

// Composition names the two underlying hops of a composed relationship.
type Composition struct {
	Through string
	Hop     string
}

// Resource is the immutable descriptor for one resource type.
type Resource struct {
	Type       string
	PrimaryKey string

	// AllowClientIDs permits a client-supplied id on creation.
	AllowClientIDs bool

	// Base names the parent descriptor for polymorphic hierarchies.
	// Base descriptors contribute their field set to subtypes; the
	// wire type discriminator stays the subtype name.
	Base string

	Attributes    []Attribute
	Relationships []Relationship

	attrs map[string]*Attribute
	rels  map[string]*Relationship
}

// New builds a Resource and indexes its fields. Attribute order is
// preserved as given.
func New(typ, pk string, attrs []Attribute, rels []Relationship) *Resource {
	r := &Resource{
		Type:          typ,
		PrimaryKey:    pk,
		Attributes:    attrs,
		Relationships: rels,
	}
	r.index()
	return r
}

// NewSubtype builds a descriptor that shares the base descriptor's field
// set and adds its own. The subtype keeps its own wire type name, which
// write-time type checking compares against.
func NewSubtype(base *Resource, typ string, attrs []Attribute, rels []Relationship) *Resource {
	merged := make([]Attribute, 0, len(base.Attributes)+len(attrs))
	merged = append(merged, base.Attributes...)
	merged = append(merged, attrs...)
	mergedRels := make([]Relationship, 0, len(base.Relationships)+len(rels))
	mergedRels = append(mergedRels, base.Relationships...)
	mergedRels = append(mergedRels, rels...)
	r := New(typ, base.PrimaryKey, merged, mergedRels)
	r.Base = base.Type
	r.AllowClientIDs = base.AllowClientIDs
	return r
}

func (r *Resource) index() {
	r.attrs = make(map[string]*Attribute, len(r.Attributes))
	for i := range r.Attributes {
		r.attrs[r.Attributes[i].Name] = &r.Attributes[i]
	}
	r.rels = make(map[string]*Relationship, len(r.Relationships))
	for i := range r.Relationships {
		rel := &r.Relationships[i]
		if rel.LocalColumn == "" && rel.Kind == ToOne {
			rel.LocalColumn = rel.Name + "_id"
		}
		if rel.RemoteColumn == "" && rel.Kind == ToMany {
			rel.RemoteColumn = r.Type + "_id"
		}
		r.rels[rel.Name] = rel
	}
}

// Attr looks up an attribute by name. The primary key is addressable as
// an attribute even when not listed explicitly.
func (r *Resource) Attr(name string) (*Attribute, bool) {
	if a, ok := r.attrs[name]; ok {
		return a, true
	}
	if name == r.PrimaryKey {
		return &Attribute{Name: name, Type: Integer}, true
	}
	return nil, false
}

// Rel looks up a relationship by name.
func (r *Resource) Rel(name string) (*Relationship, bool) {
	rel, ok := r.rels[name]
	return rel, ok
}

// Registry is the process-wide descriptor table, keyed by type name.
// It is populated during startup registration and read-only afterwards.
type Registry struct {
	types map[string]*Resource
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Resource)}
}

// Register adds a descriptor. Registering the same type twice is a
// programming error and panics, matching registration-time semantics.
func (g *Registry) Register(r *Resource) {
	if _, dup := g.types[r.Type]; dup {
		panic(fmt.Sprintf("descriptor: type %q registered twice", r.Type))
	}
	g.types[r.Type] = r
}

// Lookup returns the descriptor for a type name.
func (g *Registry) Lookup(typ string) (*Resource, bool) {
	r, ok := g.types[typ]
	return r, ok
}

// Types returns the registered type names in no particular order.
func (g *Registry) Types() []string {
	out := make([]string, 0, len(g.types))
	for t := range g.types {
		out = append(out, t)
	}
	return out
}
