// Package document defines the resource-document wire format and the
// default serializer and deserializer between stored entities and that
// format. The engine depends only on the Serializer and Deserializer
// interfaces, so per-type custom implementations can be substituted
// without touching the query machinery.
package document

import "encoding/json"

// Identifier is the minimal type+id pair used for relationship linkage.
// It is never a full resource object, which keeps relationship graphs
// from recursing without bound.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Links holds the link objects of a document, resource or relationship.
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Next    string `json:"next,omitempty"`
	Prev    string `json:"prev,omitempty"`
}

// Relationship is the wire representation of one relationship field:
// identifier linkage plus navigation links. Data is an Identifier, a
// []Identifier, or nil, and is always serialized even when null.
type Relationship struct {
	Data  any    `json:"data"`
	Links *Links `json:"links,omitempty"`
}

// Resource is the wire representation of one entity. Type and ID are
// always present and always strings, regardless of the underlying
// primary-key type; no visibility rule removes them.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         *Links                  `json:"links,omitempty"`
}

// Document is a top-level data document. Data holds a Resource, a
// []Resource, or nil. Error responses use ErrorDocument instead, which
// keeps data and errors mutually exclusive by construction.
type Document struct {
	Data     any            `json:"data"`
	Included []Resource     `json:"included,omitempty"`
	Links    *Links         `json:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// ErrorObject is one reported failure.
type ErrorObject struct {
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail"`
	Source string `json:"source,omitempty"`
}

// ErrorDocument is a top-level error document.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// Encode renders a document as JSON.
func (d *Document) Encode(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(d, "", "  ")
	}
	return json.Marshal(d)
}
