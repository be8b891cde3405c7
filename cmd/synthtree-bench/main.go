// synthtree-bench is a benchmark and stress test for the synthtree library.
// It churns the arena, builds and tears down large node trees, and releases
// handles from many goroutines at once.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phroun/synthtree"
)

type BenchResult struct {
	Name     string
	Duration time.Duration
	Ops      int
	Extra    string
}

func (r BenchResult) String() string {
	if r.Ops > 0 {
		opsPerSec := float64(r.Ops) / r.Duration.Seconds()
		if r.Extra != "" {
			return fmt.Sprintf("%-40s %12v  (%s ops, %s ops/sec) %s", r.Name, r.Duration.Round(time.Microsecond),
				humanize.Comma(int64(r.Ops)), humanize.CommafWithDigits(opsPerSec, 0), r.Extra)
		}
		return fmt.Sprintf("%-40s %12v  (%s ops, %s ops/sec)", r.Name, r.Duration.Round(time.Microsecond),
			humanize.Comma(int64(r.Ops)), humanize.CommafWithDigits(opsPerSec, 0))
	}
	if r.Extra != "" {
		return fmt.Sprintf("%-40s %12v  %s", r.Name, r.Duration.Round(time.Microsecond), r.Extra)
	}
	return fmt.Sprintf("%-40s %12v", r.Name, r.Duration.Round(time.Microsecond))
}

type benchConfig struct {
	nodes   int
	workers int
	arena   int
	seed    uint64
}

func main() {
	var cfg benchConfig
	cmd := &cobra.Command{
		Use:   "synthtree-bench",
		Short: "Benchmark the synthtree arena and node graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cmd.Flags().IntVarP(&cfg.nodes, "nodes", "n", 10000, "nodes per benchmark")
	cmd.Flags().IntVarP(&cfg.workers, "workers", "w", runtime.GOMAXPROCS(0), "goroutines for concurrent benchmarks")
	cmd.Flags().IntVar(&cfg.arena, "arena", 64<<20, "arena size in bytes (power of two)")
	cmd.Flags().Uint64Var(&cfg.seed, "seed", 1, "random seed")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg benchConfig) error {
	fmt.Println("synthtree Benchmark and Stress Test")
	fmt.Println("===================================")
	fmt.Printf("Nodes: %s\n", humanize.Comma(int64(cfg.nodes)))
	fmt.Printf("Arena: %s\n", humanize.IBytes(uint64(cfg.arena)))
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	var results []BenchResult
	runBench := func(name string, fn func() BenchResult) {
		fmt.Printf("  %-40s ", name+"...")
		result := fn()
		fmt.Printf("%v\n", result.Duration.Round(time.Microsecond))
		results = append(results, result)
	}

	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))

	fmt.Println("Arena:")
	runBench("Allocate/free (random sizes)", func() BenchResult { return benchArenaChurn(cfg, rng) })
	runBench("Allocate until exhausted", func() BenchResult { return benchArenaExhaust(cfg) })

	newGraph := func() (*synthtree.Graph, error) {
		return synthtree.New(synthtree.Options{ArenaSize: cfg.arena, MaxNodes: cfg.nodes + 16})
	}
	def := synthtree.MustSynthDef("bench",
		synthtree.Param{Name: "freq", Default: 440},
		synthtree.Param{Name: "amp", Default: 0.1},
		synthtree.Param{Name: "bands", Size: 14})

	fmt.Println("\nNode graph:")
	g, err := newGraph()
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	runBench("Add synths (tail of root)", func() BenchResult { return benchAddSynths(g, def, cfg) })
	runBench("Lookups by id", func() BenchResult { return benchLookups(g, cfg, rng) })
	runBench("Control writes", func() BenchResult { return benchSets(g, cfg, rng) })
	runBench("Moves (random before/after)", func() BenchResult { return benchMoves(g, cfg, rng) })
	runBench("Free all", func() BenchResult { return benchFreeAll(g) })
	g.Close()

	fmt.Println("\nConcurrency:")
	g, err = newGraph()
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	runBench("Concurrent handle release", func() BenchResult { return benchConcurrentRelease(g, def, cfg) })
	runBench("Concurrent lookups", func() BenchResult { return benchConcurrentLookups(g, def, cfg) })
	stats := g.Stats()
	g.Close()

	fmt.Println("\n" + "=")
	fmt.Println("SUMMARY")
	fmt.Println("=")
	for _, r := range results {
		fmt.Println(r)
	}

	fmt.Println()
	fmt.Printf("Nodes created: %d, destroyed: %d\n", stats.Created, stats.Destroyed)
	fmt.Printf("Arena allocations: %d, failures: %d\n", stats.Arena.Allocations, stats.Arena.Failures)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Printf("Peak heap allocation: %s\n", humanize.IBytes(m.HeapSys))
	fmt.Printf("Total allocations: %s\n", humanize.IBytes(m.TotalAlloc))
	return nil
}

func benchArenaChurn(cfg benchConfig, rng *rand.Rand) BenchResult {
	a, err := synthtree.NewArena(cfg.arena)
	if err != nil {
		return BenchResult{Name: "Arena churn", Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	live := make([]synthtree.Block, 0, 1024)
	ops, failures := 0, 0

	start := time.Now()
	for i := 0; i < cfg.nodes*10; i++ {
		if len(live) > 0 && (len(live) >= cap(live) || rng.IntN(3) == 0) {
			j := rng.IntN(len(live))
			a.Free(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			ops++
			continue
		}
		b, err := a.Allocate(1 + rng.IntN(4096))
		if err != nil {
			failures++
			continue
		}
		live = append(live, b)
		ops++
	}
	for _, b := range live {
		a.Free(b)
	}
	duration := time.Since(start)

	return BenchResult{
		Name:     "Arena churn",
		Duration: duration,
		Ops:      ops,
		Extra:    fmt.Sprintf("%d failures, %s free after", failures, humanize.IBytes(uint64(a.Stats().LargestFree))),
	}
}

func benchArenaExhaust(cfg benchConfig) BenchResult {
	a, err := synthtree.NewArena(cfg.arena)
	if err != nil {
		return BenchResult{Name: "Arena exhaust", Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	var blocks []synthtree.Block

	start := time.Now()
	for {
		b, err := a.Allocate(64)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	for _, b := range blocks {
		a.Free(b)
	}

	return BenchResult{
		Name:     "Arena exhaust",
		Duration: time.Since(start),
		Ops:      len(blocks) * 2,
		Extra:    fmt.Sprintf("%d blocks of 64 bytes", len(blocks)),
	}
}

func benchAddSynths(g *synthtree.Graph, def *synthtree.SynthDef, cfg benchConfig) BenchResult {
	ops := 0
	start := time.Now()
	for i := 1; i <= cfg.nodes; i++ {
		if _, err := g.AddSynth(synthtree.NodeID(i), def, g.Root(), synthtree.AtTail()); err != nil {
			return BenchResult{Name: "Add synths", Duration: time.Since(start), Ops: ops, Extra: fmt.Sprintf("ERROR: %v", err)}
		}
		ops++
	}
	return BenchResult{
		Name:     "Add synths",
		Duration: time.Since(start),
		Ops:      ops,
		Extra:    fmt.Sprintf("arena used %s", humanize.IBytes(uint64(g.Stats().Arena.Used))),
	}
}

func benchLookups(g *synthtree.Graph, cfg benchConfig, rng *rand.Rand) BenchResult {
	ops, misses := 0, 0
	start := time.Now()
	for range cfg.nodes * 10 {
		if g.Find(synthtree.NodeID(1+rng.IntN(cfg.nodes))) == nil {
			misses++
		}
		ops++
	}
	return BenchResult{Name: "Lookups", Duration: time.Since(start), Ops: ops, Extra: fmt.Sprintf("%d misses", misses)}
}

func benchSets(g *synthtree.Graph, cfg benchConfig, rng *rand.Rand) BenchResult {
	freq := synthtree.SlotName("freq")
	ops := 0
	start := time.Now()
	for range cfg.nodes * 10 {
		n := g.Find(synthtree.NodeID(1 + rng.IntN(cfg.nodes)))
		if n != nil && g.Set(n, freq, float32(rng.IntN(2000))) == nil {
			ops++
		}
	}
	return BenchResult{Name: "Control writes", Duration: time.Since(start), Ops: ops}
}

func benchMoves(g *synthtree.Graph, cfg benchConfig, rng *rand.Rand) BenchResult {
	ops, failures := 0, 0
	start := time.Now()
	for range cfg.nodes {
		n := g.Find(synthtree.NodeID(1 + rng.IntN(cfg.nodes)))
		anchor := g.Find(synthtree.NodeID(1 + rng.IntN(cfg.nodes)))
		if n == nil || anchor == nil || n == anchor {
			continue
		}
		spec := synthtree.BeforeNode(anchor)
		if rng.IntN(2) == 0 {
			spec = synthtree.AfterNode(anchor)
		}
		if err := g.Move(n, nil, spec); err != nil {
			failures++
			continue
		}
		ops++
	}
	return BenchResult{Name: "Moves", Duration: time.Since(start), Ops: ops, Extra: fmt.Sprintf("%d failures", failures)}
}

func benchFreeAll(g *synthtree.Graph) BenchResult {
	count := g.Root().ChildCount()
	start := time.Now()
	if err := g.FreeAll(g.Root()); err != nil {
		return BenchResult{Name: "Free all", Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	return BenchResult{
		Name:     "Free all",
		Duration: time.Since(start),
		Ops:      count,
		Extra:    fmt.Sprintf("arena used %s after", humanize.IBytes(uint64(g.Stats().Arena.Used))),
	}
}

// benchConcurrentRelease frees nodes while several goroutines hold and
// release handles to them, then checks that every node was destroyed once.
func benchConcurrentRelease(g *synthtree.Graph, def *synthtree.SynthDef, cfg benchConfig) BenchResult {
	handles := make([]*synthtree.Handle, 0, cfg.nodes*cfg.workers)
	for i := 1; i <= cfg.nodes; i++ {
		id := synthtree.NodeID(i)
		if _, err := g.AddSynth(id, def, g.Root(), synthtree.AtTail()); err != nil {
			return BenchResult{Name: "Concurrent release", Extra: fmt.Sprintf("ERROR: %v", err)}
		}
		for range cfg.workers {
			h, err := g.Acquire(id)
			if err != nil {
				return BenchResult{Name: "Concurrent release", Extra: fmt.Sprintf("ERROR: %v", err)}
			}
			handles = append(handles, h)
		}
	}
	before := g.Stats().Destroyed
	if err := g.FreeAll(g.Root()); err != nil {
		return BenchResult{Name: "Concurrent release", Extra: fmt.Sprintf("ERROR: %v", err)}
	}

	var released atomic.Int64
	start := time.Now()
	var eg errgroup.Group
	for w := range cfg.workers {
		eg.Go(func() error {
			for i := w; i < len(handles); i += cfg.workers {
				// Each handle is released twice; the second call must be a no-op.
				if handles[i].Release() {
					released.Add(1)
				}
				handles[i].Release()
			}
			return nil
		})
	}
	_ = eg.Wait()
	duration := time.Since(start)

	destroyed := g.Stats().Destroyed - before
	extra := fmt.Sprintf("%d destroyed", destroyed)
	if destroyed != uint64(cfg.nodes) {
		extra = fmt.Sprintf("MISMATCH: %d destroyed, want %d", destroyed, cfg.nodes)
	}
	return BenchResult{Name: "Concurrent release", Duration: duration, Ops: int(released.Load()), Extra: extra}
}

func benchConcurrentLookups(g *synthtree.Graph, def *synthtree.SynthDef, cfg benchConfig) BenchResult {
	for i := 1; i <= cfg.nodes; i++ {
		if _, err := g.AddSynth(synthtree.NodeID(i), def, g.Root(), synthtree.AtTail()); err != nil {
			return BenchResult{Name: "Concurrent lookups", Extra: fmt.Sprintf("ERROR: %v", err)}
		}
	}

	var hits atomic.Int64
	start := time.Now()
	var eg errgroup.Group
	for w := range cfg.workers {
		eg.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			for range cfg.nodes {
				h, err := g.Acquire(synthtree.NodeID(1 + rng.IntN(cfg.nodes)))
				if err != nil {
					return err
				}
				hits.Add(1)
				h.Release()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return BenchResult{Name: "Concurrent lookups", Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	return BenchResult{Name: "Concurrent lookups", Duration: time.Since(start), Ops: int(hits.Load())}
}
