// Package integration exercises whole systems: engine, stores, locks, and
// compactor wired together exactly as trellis.Open ships them.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/trellis-data/trellis"
	"github.com/trellis-data/trellis/engine"
	"github.com/trellis-data/trellis/internal/config"
	"github.com/trellis-data/trellis/manifest"
	"github.com/trellis-data/trellis/schema"
)

// Ada is the caller used across scenarios.
var Ada = engine.Caller{Author: "ada", TraceID: "trace-integration"}

// Stack is one wired system plus the manifest collector observing it.
type Stack struct {
	Sys       *trellis.System
	Collector *manifest.CollectorExporter
}

// Engine is shorthand for the facade under test.
func (s *Stack) Engine() *engine.Engine {
	return s.Sys.Engine
}

// NewMemoryStack builds an in-process system. Mutate hooks adjust the
// config before assembly, typically compaction cadence.
func NewMemoryStack(t *testing.T, mutate ...func(*config.Config)) *Stack {
	t.Helper()
	cfg := &config.Config{
		Backend: "memory",
		Lock:    config.LockConfig{AcquireTimeout: 5 * time.Second},
	}
	for _, m := range mutate {
		m(cfg)
	}
	return open(t, cfg)
}

// NewRedisStack builds a system over a private miniredis instance.
func NewRedisStack(t *testing.T, mutate ...func(*config.Config)) *Stack {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.Config{
		Backend: "redis",
		Redis:   config.RedisConfig{Addr: mr.Addr(), Prefix: "trellis:"},
		Lock:    config.LockConfig{AcquireTimeout: 5 * time.Second},
		Cache:   config.CacheConfig{SchemaCacheEntries: 64},
	}
	for _, m := range mutate {
		m(cfg)
	}
	return open(t, cfg)
}

// NewRedisPairedStack opens a second system over the same Redis instance
// as an existing stack, simulating two processes sharing state.
func NewRedisPairedStack(t *testing.T, addr string) *Stack {
	t.Helper()
	return open(t, &config.Config{
		Backend: "redis",
		Redis:   config.RedisConfig{Addr: addr, Prefix: "trellis:"},
		Lock:    config.LockConfig{AcquireTimeout: 5 * time.Second},
	})
}

func open(t *testing.T, cfg *config.Config) *Stack {
	t.Helper()
	collector := manifest.NewCollectorExporter()
	sys, err := trellis.Open(context.Background(), cfg, trellis.Options{Exporter: collector})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	return &Stack{Sys: sys, Collector: collector}
}

// BaseSchema is the shared starting document: a User, an Order with an
// enumerated status, and a link between them.
func BaseSchema() *schema.Schema {
	s := schema.New()
	s.AddObjectType(&schema.ObjectType{
		Name:       "User",
		PrimaryKey: "id",
		Properties: []*schema.Property{
			{Name: "id", Type: &schema.TypeSpec{Base: schema.TypeUUID}, Required: true},
			{
				Name:        "email",
				Type:        &schema.TypeSpec{Base: schema.TypeString},
				Required:    true,
				Constraints: []schema.Constraint{{Kind: schema.ConstraintUnique, Value: true}},
			},
			{Name: "name", Type: &schema.TypeSpec{Base: schema.TypeString}},
			{Name: "age", Type: &schema.TypeSpec{Base: schema.TypeInteger}},
		},
	})
	s.AddObjectType(&schema.ObjectType{
		Name:       "Order",
		PrimaryKey: "id",
		Properties: []*schema.Property{
			{Name: "id", Type: &schema.TypeSpec{Base: schema.TypeUUID}, Required: true},
			{
				Name:          "status",
				Type:          &schema.TypeSpec{Base: schema.TypeString},
				Required:      true,
				AllowedValues: []string{"pending", "shipped"},
			},
		},
	})
	s.AddLinkType(&schema.LinkType{
		Name:        "placed_by",
		Source:      "Order",
		Target:      "User",
		Cardinality: schema.OneToMany,
		OnDelete:    schema.DeleteRestrict,
	})
	return s
}

// Init seeds main with the base schema.
func (s *Stack) Init(t *testing.T) {
	t.Helper()
	_, err := s.Engine().Init(context.Background(), Ada, BaseSchema(), "main")
	require.NoError(t, err)
}

// CommitOn lands one mutation on a branch and returns the commit id.
func (s *Stack) CommitOn(t *testing.T, branch, message string, mutate func(*schema.Schema) error) string {
	t.Helper()
	c, err := s.Engine().CommitWith(context.Background(), Ada, branch, message, mutate)
	require.NoError(t, err)
	return c.ID
}

// AddProperty returns a mutation adding a string property to an object
// type.
func AddProperty(owner, name string) func(*schema.Schema) error {
	return func(s *schema.Schema) error {
		obj := s.ObjectTypes[owner]
		obj.Properties = append(obj.Properties, &schema.Property{
			Name: name,
			Type: &schema.TypeSpec{Base: schema.TypeString},
		})
		return nil
	}
}
