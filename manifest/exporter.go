package manifest

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Exporter receives each manifest after its commit has landed. Exporting
// happens after the branch head moved: failures are the exporter's problem
// to log or buffer, never the writer's to unwind.
type Exporter interface {
	Export(ctx context.Context, m *Manifest) error
}

// NopExporter discards manifests.
type NopExporter struct{}

func (NopExporter) Export(ctx context.Context, m *Manifest) error { return nil }

// CollectorExporter keeps every exported manifest in memory, oldest first.
type CollectorExporter struct {
	mu        sync.Mutex
	manifests []*Manifest
}

// NewCollectorExporter creates an empty collector.
func NewCollectorExporter() *CollectorExporter {
	return &CollectorExporter{}
}

func (c *CollectorExporter) Export(ctx context.Context, m *Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests = append(c.manifests, m)
	return nil
}

// Manifests returns a copy of everything exported so far.
func (c *CollectorExporter) Manifests() []*Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Manifest(nil), c.manifests...)
}

// Last returns the most recently exported manifest, or nil.
func (c *CollectorExporter) Last() *Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.manifests) == 0 {
		return nil
	}
	return c.manifests[len(c.manifests)-1]
}

// LogExporter writes one structured log line per manifest, with the full
// change payload at debug level.
type LogExporter struct {
	log *zap.Logger
}

// NewLogExporter creates a log exporter. A nil logger disables output.
func NewLogExporter(log *zap.Logger) *LogExporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogExporter{log: log}
}

func (e *LogExporter) Export(ctx context.Context, m *Manifest) error {
	fields := []zap.Field{
		zap.String("manifest_id", m.ID),
		zap.String("kind", m.Kind.String()),
		zap.String("branch", m.Branch),
		zap.String("commit", m.CommitID),
		zap.Strings("parents", m.ParentIDs),
		zap.String("snapshot", string(m.SnapshotID)),
		zap.String("author", m.Author),
		zap.Int("changes", len(m.Changes)),
	}
	if m.TraceID != "" {
		fields = append(fields, zap.String("trace_id", m.TraceID))
	}
	if len(m.Resolutions) > 0 {
		fields = append(fields, zap.Int("resolutions", len(m.Resolutions)))
	}
	e.log.Info("manifest", fields...)
	e.log.Debug("manifest payload",
		zap.String("manifest_id", m.ID),
		zap.Any("changes", m.Changes),
		zap.Any("resolutions", m.Resolutions))
	return nil
}

var (
	_ Exporter = NopExporter{}
	_ Exporter = (*CollectorExporter)(nil)
	_ Exporter = (*LogExporter)(nil)
)
