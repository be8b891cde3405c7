package synthtree

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "synthtree"

// Collector exports a graph's statistics as Prometheus metrics. Values are
// read from Graph.Stats on every scrape.
type Collector struct {
	g *Graph

	arenaCapacity  *prometheus.Desc
	arenaUsed      *prometheus.Desc
	arenaRequested *prometheus.Desc
	arenaLargest   *prometheus.Desc
	arenaFailures  *prometheus.Desc
	nodes          *prometheus.Desc
	retired        *prometheus.Desc
	freeSlots      *prometheus.Desc
	created        *prometheus.Desc
	destroyed      *prometheus.Desc
	slotFailures   *prometheus.Desc
	pressure       *prometheus.Desc
}

// NewCollector returns a collector for g, labelled with the graph's instance id.
func NewCollector(g *Graph) *Collector {
	labels := prometheus.Labels{"instance": g.ID()}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, variable, labels)
	}
	return &Collector{
		g:              g,
		arenaCapacity:  desc("arena", "capacity_bytes", "Fixed arena capacity in bytes"),
		arenaUsed:      desc("arena", "used_bytes", "Arena bytes held by live blocks"),
		arenaRequested: desc("arena", "requested_bytes", "Arena bytes requested by callers"),
		arenaLargest:   desc("arena", "largest_free_bytes", "Largest allocation the arena can currently serve"),
		arenaFailures:  desc("arena", "allocation_failures_total", "Arena allocations refused for lack of space"),
		nodes:          desc("nodes", "live", "Live nodes by kind", "kind"),
		retired:        desc("nodes", "retired", "Nodes freed from the graph but still held by handles"),
		freeSlots:      desc("nodes", "free_slots", "Unused node slots"),
		created:        desc("nodes", "created_total", "Nodes created"),
		destroyed:      desc("nodes", "destroyed_total", "Nodes destroyed"),
		slotFailures:   desc("nodes", "slot_exhaustion_total", "Node creations refused for lack of slots"),
		pressure:       desc("arena", "under_pressure", "1 when arena usage is above the soft limit"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.arenaCapacity, c.arenaUsed, c.arenaRequested, c.arenaLargest, c.arenaFailures,
		c.nodes, c.retired, c.freeSlots, c.created, c.destroyed, c.slotFailures, c.pressure,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.g.Stats()
	gauge := func(d *prometheus.Desc, v float64, lv ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lv...)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.arenaCapacity, float64(s.Arena.Capacity))
	gauge(c.arenaUsed, float64(s.Arena.Used))
	gauge(c.arenaRequested, float64(s.Arena.Requested))
	gauge(c.arenaLargest, float64(s.Arena.LargestFree))
	counter(c.arenaFailures, s.Arena.Failures)
	gauge(c.nodes, float64(s.Synths), KindSynth.String())
	gauge(c.nodes, float64(s.Groups), KindGroup.String())
	gauge(c.retired, float64(s.Retired))
	gauge(c.freeSlots, float64(s.FreeSlots))
	counter(c.created, s.Created)
	counter(c.destroyed, s.Destroyed)
	counter(c.slotFailures, s.SlotExhaustion)

	pressure := 0.0
	if s.UnderPressure {
		pressure = 1
	}
	gauge(c.pressure, pressure)
}
