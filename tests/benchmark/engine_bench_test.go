package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/trellis-data/trellis/branch"
	"github.com/trellis-data/trellis/dag"
	"github.com/trellis-data/trellis/diff"
	"github.com/trellis-data/trellis/engine"
	"github.com/trellis-data/trellis/lock"
	"github.com/trellis-data/trellis/schema"
	"github.com/trellis-data/trellis/snapshot"
)

var bench = engine.Caller{Author: "bench", TraceID: "trace-bench"}

func newBenchEngine(b *testing.B) *engine.Engine {
	b.Helper()

	commits := dag.NewMemoryStore()
	walker, err := dag.NewWalker(commits, nil)
	if err != nil {
		b.Fatalf("new walker: %v", err)
	}
	b.Cleanup(walker.Close)

	eng, err := engine.New(engine.Options{
		Snapshots: snapshot.NewMemoryStore(),
		Commits:   commits,
		Walker:    walker,
		Branches:  branch.NewMemoryDirectory(),
		Locks:     lock.NewManager(lock.NewMemoryCoordinator(), nil),
	})
	if err != nil {
		b.Fatalf("new engine: %v", err)
	}
	return eng
}

// BenchmarkEncode_LargeSchema benchmarks canonical encoding of a 50-object schema
func BenchmarkEncode_LargeSchema(b *testing.B) {
	doc := LargeSchema()
	b.Logf("Benchmarking encode with %d entities, %d properties", CountEntities(doc), CountProperties(doc))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = snapshot.Encode(doc)
	}
}

// BenchmarkEncode_SmallSchema benchmarks canonical encoding of a minimal schema
func BenchmarkEncode_SmallSchema(b *testing.B) {
	doc := SmallSchema()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = snapshot.Encode(doc)
	}
}

// BenchmarkDecode_LargeSchema benchmarks decoding a 50-object snapshot
func BenchmarkDecode_LargeSchema(b *testing.B) {
	doc := LargeSchema()
	data, _ := snapshot.Encode(doc)
	b.Logf("Benchmarking decode with %d bytes", len(data))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = snapshot.Decode(data)
	}
}

// BenchmarkComputeID_LargeSchema benchmarks content addressing of a 50-object snapshot
func BenchmarkComputeID_LargeSchema(b *testing.B) {
	data, _ := snapshot.Encode(LargeSchema())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = snapshot.ComputeID(data)
	}
}

// BenchmarkDiff_TypicalSchema benchmarks a field-level diff across ten objects
func BenchmarkDiff_TypicalSchema(b *testing.B) {
	base := TypicalSchema()
	side := ExtendObjects(WidenNumerics(base), 2)
	b.Logf("Benchmarking diff with %d changes", len(diff.Compute(base, side)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = diff.Compute(base, side)
	}
}

// BenchmarkDiff_LargeSchema benchmarks a field-level diff across fifty objects
func BenchmarkDiff_LargeSchema(b *testing.B) {
	base := LargeSchema()
	side := ExtendObjects(WidenNumerics(base), 2)
	b.Logf("Benchmarking diff with %d changes", len(diff.Compute(base, side)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = diff.Compute(base, side)
	}
}

// BenchmarkCommit_TypicalSchema benchmarks the full commit path on memory backends
func BenchmarkCommit_TypicalSchema(b *testing.B) {
	ctx := context.Background()
	eng := newBenchEngine(b)

	base := TypicalSchema()
	if _, err := eng.Init(ctx, bench, base, "main"); err != nil {
		b.Fatalf("init: %v", err)
	}
	versions := [2]*schema.Schema{WidenNumerics(base), base}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.Commit(ctx, bench, "main", versions[i%2], "bench commit"); err != nil {
			b.Fatalf("commit: %v", err)
		}
	}
}

// BenchmarkMerge_TypicalSchema benchmarks a full merge of diverged branches
func BenchmarkMerge_TypicalSchema(b *testing.B) {
	ctx := context.Background()
	eng := newBenchEngine(b)

	base := TypicalSchema()
	if _, err := eng.Init(ctx, bench, base, "main"); err != nil {
		b.Fatalf("init: %v", err)
	}
	widened := WidenNumerics(base)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		src := fmt.Sprintf("src-%d", i)
		tgt := fmt.Sprintf("tgt-%d", i)
		if err := eng.Fork(ctx, bench, src, "main"); err != nil {
			b.Fatalf("fork: %v", err)
		}
		if err := eng.Fork(ctx, bench, tgt, "main"); err != nil {
			b.Fatalf("fork: %v", err)
		}
		if _, err := eng.Commit(ctx, bench, src, widened, "diverge"); err != nil {
			b.Fatalf("commit: %v", err)
		}
		b.StartTimer()

		if _, err := eng.Merge(ctx, bench, src, tgt, "bench merge"); err != nil {
			b.Fatalf("merge: %v", err)
		}
	}
}

// BenchmarkHistory_1000Commits benchmarks a first-parent walk over a deep chain
func BenchmarkHistory_1000Commits(b *testing.B) {
	ctx := context.Background()

	snaps := snapshot.NewMemoryStore()
	commits := dag.NewMemoryStore()
	walker, err := dag.NewWalker(commits, nil)
	if err != nil {
		b.Fatalf("new walker: %v", err)
	}
	b.Cleanup(walker.Close)

	snapID, err := snapshot.PutSchema(ctx, snaps, SmallSchema())
	if err != nil {
		b.Fatalf("put schema: %v", err)
	}

	var head *dag.Commit
	for i := 0; i < 1000; i++ {
		var parents []*dag.Commit
		if head != nil {
			parents = []*dag.Commit{head}
		}
		c, err := dag.NewCommit(snapID, parents, "bench", fmt.Sprintf("commit %d", i), "")
		if err != nil {
			b.Fatalf("new commit: %v", err)
		}
		if err := commits.Put(ctx, c); err != nil {
			b.Fatalf("put commit: %v", err)
		}
		head = c
	}
	b.Logf("Benchmarking history walk over %d commits", 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := walker.FirstParentChain(ctx, head.ID, 0); err != nil {
			b.Fatalf("walk: %v", err)
		}
	}
}
