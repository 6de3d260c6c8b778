// Package config loads the YAML project file: the server options, the
// storage backend and the resource descriptors the API exposes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/restframe/internal/descriptor"
)

// Config is the decoded project file.
type Config struct {
	Server    Server     `yaml:"server"`
	Store     Store      `yaml:"store"`
	Page      Page       `yaml:"page"`
	Resources []Resource `yaml:"resources"`
}

type Server struct {
	Addr         string   `yaml:"addr"`
	BasePath     string   `yaml:"base_path"`
	Pretty       bool     `yaml:"pretty"`
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// Duration decodes either a Go duration string ("30s") or an integer
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q", s)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Store struct {
	// Driver selects the backend: memory, sqlite or postgres.
	Driver string `yaml:"driver"`
	// DSN is the database path (sqlite) or connection string (postgres).
	DSN string `yaml:"dsn"`
}

type Page struct {
	DefaultSize int `yaml:"default_size"`
	MaxSize     int `yaml:"max_size"`
}

// Resource declares one exposed type.
type Resource struct {
	Type           string         `yaml:"type"`
	PrimaryKey     string         `yaml:"primary_key"`
	AllowClientIDs bool           `yaml:"allow_client_ids"`
	Base           string         `yaml:"base"`
	Attributes     []Attribute    `yaml:"attributes"`
	Relationships  []Relationship `yaml:"relationships"`
}

type Attribute struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type Relationship struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"`
	Target       string `yaml:"target"`
	Nullable     bool   `yaml:"nullable"`
	LocalColumn  string `yaml:"local_column"`
	RemoteColumn string `yaml:"remote_column"`
	Via          *Via   `yaml:"via"`
}

type Via struct {
	Through string `yaml:"through"`
	Hop     string `yaml:"hop"`
}

// Load reads and validates the project file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = Duration(10 * time.Second)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Page.DefaultSize == 0 {
		c.Page.DefaultSize = 10
	}
	if c.Page.MaxSize == 0 {
		c.Page.MaxSize = 100
	}
	for i := range c.Resources {
		if c.Resources[i].PrimaryKey == "" {
			c.Resources[i].PrimaryKey = "id"
		}
	}
}

var fieldTypes = map[string]descriptor.FieldType{
	"integer":  descriptor.Integer,
	"float":    descriptor.Float,
	"string":   descriptor.String,
	"boolean":  descriptor.Boolean,
	"date":     descriptor.Date,
	"datetime": descriptor.DateTime,
	"duration": descriptor.Duration,
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store driver %q requires a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if len(c.Resources) == 0 {
		return fmt.Errorf("config: no resources declared")
	}
	declared := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if r.Type == "" {
			return fmt.Errorf("config: resource with empty type")
		}
		if declared[r.Type] {
			return fmt.Errorf("config: resource %q declared twice", r.Type)
		}
		declared[r.Type] = true
		for _, a := range r.Attributes {
			if _, ok := fieldTypes[a.Type]; !ok {
				return fmt.Errorf("config: resource %q: attribute %q has unknown type %q", r.Type, a.Name, a.Type)
			}
		}
		for _, rel := range r.Relationships {
			if rel.Kind != "to-one" && rel.Kind != "to-many" {
				return fmt.Errorf("config: resource %q: relationship %q has unknown kind %q", r.Type, rel.Name, rel.Kind)
			}
		}
	}
	for _, r := range c.Resources {
		if r.Base != "" && !declared[r.Base] {
			return fmt.Errorf("config: resource %q extends unknown base %q", r.Type, r.Base)
		}
		for _, rel := range r.Relationships {
			if !declared[rel.Target] {
				return fmt.Errorf("config: resource %q: relationship %q targets unknown type %q", r.Type, rel.Name, rel.Target)
			}
		}
	}
	return nil
}

// BuildRegistry materializes the declared resources into descriptors.
// Base types must be declared before the subtypes extending them.
func (c *Config) BuildRegistry() (*descriptor.Registry, error) {
	reg := descriptor.NewRegistry()
	for _, r := range c.Resources {
		attrs := make([]descriptor.Attribute, len(r.Attributes))
		for i, a := range r.Attributes {
			attrs[i] = descriptor.Attribute{Name: a.Name, Type: fieldTypes[a.Type]}
		}
		rels := make([]descriptor.Relationship, len(r.Relationships))
		for i, rel := range r.Relationships {
			kind := descriptor.ToOne
			if rel.Kind == "to-many" {
				kind = descriptor.ToMany
			}
			rels[i] = descriptor.Relationship{
				Name:         rel.Name,
				Kind:         kind,
				Target:       rel.Target,
				Nullable:     rel.Nullable,
				LocalColumn:  rel.LocalColumn,
				RemoteColumn: rel.RemoteColumn,
			}
			if rel.Via != nil {
				rels[i].Via = &descriptor.Composition{Through: rel.Via.Through, Hop: rel.Via.Hop}
			}
		}

		var res *descriptor.Resource
		if r.Base != "" {
			base, ok := reg.Lookup(r.Base)
			if !ok {
				return nil, fmt.Errorf("config: resource %q extends %q, which is declared later", r.Type, r.Base)
			}
			res = descriptor.NewSubtype(base, r.Type, attrs, rels)
		} else {
			res = descriptor.New(r.Type, r.PrimaryKey, attrs, rels)
			res.AllowClientIDs = r.AllowClientIDs
		}
		reg.Register(res)
	}
	return reg, nil
}
