package synthtree

import (
	"context"
	"log/slog"
	"time"
)

// GraphStats contains current node and arena statistics.
type GraphStats struct {
	LiveNodes int // nodes reachable through the identifier index, root included
	Synths    int // synth slots in use, including retired synths
	Groups    int // group slots in use, including retired groups
	Retired   int // nodes freed from the graph but still held by handles
	Slots     int // slot table capacity
	FreeSlots int // unused slots

	Created        uint64 // nodes created since the graph was made
	Destroyed      uint64 // nodes destroyed since the graph was made
	SlotExhaustion uint64 // node creations refused for lack of slots

	Arena         ArenaStats
	UnderPressure bool // arena usage above the soft limit
}

// Stats returns current statistics.
func (g *Graph) Stats() GraphStats {
	g.mu.RLock()
	live := g.index.len()
	g.mu.RUnlock()

	pc := g.pool.counts()
	stats := GraphStats{
		LiveNodes:      live,
		Synths:         pc.Synths,
		Groups:         pc.Groups,
		Retired:        pc.Synths + pc.Groups - live,
		Slots:          pc.Slots,
		FreeSlots:      pc.Free,
		Created:        pc.Created,
		Destroyed:      pc.Destroyed,
		SlotExhaustion: pc.Failures,
		Arena:          g.arena.Stats(),
	}
	stats.UnderPressure = g.softLimit > 0 && stats.Arena.Used > g.softLimit
	if stats.Retired < 0 {
		stats.Retired = 0
	}
	return stats
}

// MemoryPressure reports whether arena usage is above the soft limit.
func (g *Graph) MemoryPressure() bool {
	return g.softLimit > 0 && g.arena.Stats().Used > g.softLimit
}

// StartReporter logs a statistics snapshot every interval until StopReporter
// or Close is called. Snapshots are logged at Debug, or at Warn while the
// arena is under pressure. Calling it while a reporter runs does nothing.
func (g *Graph) StartReporter(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reporterStop != nil || g.closed || interval <= 0 {
		return
	}
	stop := make(chan struct{})
	g.reporterStop = stop
	g.reporterWg.Add(1)

	go func() {
		defer g.reporterWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.report()
			}
		}
	}()
}

// StopReporter stops the background reporter, if any, and waits for it.
func (g *Graph) StopReporter() {
	g.mu.Lock()
	stop := g.reporterStop
	g.reporterStop = nil
	g.mu.Unlock()

	if stop != nil {
		close(stop)
		g.reporterWg.Wait()
	}
}

// report logs one statistics snapshot.
func (g *Graph) report() {
	stats := g.Stats()
	level := slog.LevelDebug
	if stats.UnderPressure {
		level = slog.LevelWarn
	}
	g.logger.Log(context.Background(), level, "graph stats",
		slog.Int("live_nodes", stats.LiveNodes),
		slog.Int("retired", stats.Retired),
		slog.Int("free_slots", stats.FreeSlots),
		slog.Int("arena_used", stats.Arena.Used),
		slog.Int("arena_capacity", stats.Arena.Capacity),
		slog.Int("arena_largest_free", stats.Arena.LargestFree),
		slog.Uint64("arena_failures", stats.Arena.Failures),
		slog.Bool("under_pressure", stats.UnderPressure))
}
