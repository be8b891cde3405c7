package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/phroun/synthtree"
)

// REPL holds the state of an interactive session.
type REPL struct {
	out     io.Writer
	graph   *synthtree.Graph
	defs    *synthtree.DefRegistry
	handles map[synthtree.NodeID]*synthtree.Handle
}

func newREPL(g *synthtree.Graph, out io.Writer) *REPL {
	return &REPL{
		out:   out,
		graph: g,
		defs: synthtree.NewDefRegistry(
			synthtree.MustSynthDef("sine",
				synthtree.Param{Name: "freq", Default: 440},
				synthtree.Param{Name: "amp", Default: 0.1},
				synthtree.Param{Name: "pan"}),
			synthtree.MustSynthDef("noise",
				synthtree.Param{Name: "amp", Default: 0.1}),
			synthtree.MustSynthDef("mixer",
				synthtree.Param{Name: "gain", Default: 1, Size: 8}),
		),
		handles: make(map[synthtree.NodeID]*synthtree.Handle),
	}
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *REPL) println(args ...any) {
	fmt.Fprintln(r.out, args...)
}

// handleCommand runs one input line. It returns false when the session
// should end.
func (r *REPL) handleCommand(input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		r.printHelp()
	case "quit", "exit", "q":
		r.println("Goodbye!")
		return false

	// Creation
	case "synth", "s_new":
		r.cmdSynth(args)
	case "group", "g_new":
		r.cmdGroup(args, false)
	case "pgroup", "p_new":
		r.cmdGroup(args, true)

	// Structure
	case "free", "n_free":
		r.cmdFree(args)
	case "freeall", "g_freeall":
		r.cmdFreeAll(args)
	case "deepfree", "g_deepfree":
		r.cmdDeepFree(args)
	case "move":
		r.cmdMove(args)
	case "reid":
		r.cmdReid(args)

	// Controls
	case "set", "n_set":
		r.cmdSet(args)
	case "setn", "n_setn":
		r.cmdSetN(args)
	case "get", "s_get":
		r.cmdGet(args)
	case "pause":
		r.cmdRun(args, false)
	case "run", "n_run":
		r.cmdRun(args, true)

	// Handles
	case "hold":
		r.cmdHold(args)
	case "release":
		r.cmdRelease(args)

	// Inspection
	case "tree", "ls":
		r.cmdTree()
	case "nodes":
		r.cmdNodes()
	case "info":
		r.cmdInfo(args)
	case "defs":
		r.cmdDefs()
	case "def":
		r.cmdDef(args)
	case "stats":
		r.cmdStats()

	default:
		r.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (r *REPL) printHelp() {
	help := `
Creation:
  synth <def> <id> [action] [target] [slot value ...]
                                  Create a synth (id -1 picks a free id)
  group <id> [action] [target]    Create an ordered group
  pgroup <id> [action] [target]   Create a parallel group

  action is head, tail, before, after, replace, insert, or an add action
  number 0-4. The default is head of group 0.

Structure:
  free <id> ...                   Free nodes (groups with their subtrees)
  freeall <group> ...             Free every child of a group
  deepfree <group> ...            Free every synth below a group
  move <id> <action> <target>     Move a node
  reid <id> <new-id>              Give a node a new id

Controls:
  set <id> <slot> <value> ...     Set controls by name or index
  setn <id> <slot> <value> ...    Set consecutive controls
  get <id> <slot>                 Read a control
  pause <id> ...                  Pause nodes
  run <id> [0|1] ...              Resume (1) or pause (0) nodes

Handles:
  hold <id>                       Take a handle on a node
  release <id>                    Release the held handle

Inspection:
  tree                            Show the node tree
  nodes                           List live nodes by id
  info <id>                       Show one node
  defs                            List synth definitions
  def <name> <param[=default]>... Define a synth (param:N for N controls)
  stats                           Show node and arena statistics

Other:
  help                            Show this help
  quit                            Exit
`
	r.println(help)
}

func parseID(s string) (synthtree.NodeID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < -1 || v > math.MaxUint32 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	if v == -1 {
		return 0, errAutoID
	}
	return synthtree.NodeID(v), nil
}

var errAutoID = errors.New("auto id")

// newID resolves an id argument for a new node, where -1 asks the graph
// for an unused id.
func (r *REPL) newID(s string) (synthtree.NodeID, error) {
	id, err := parseID(s)
	if errors.Is(err, errAutoID) {
		return r.graph.GenerateID(), nil
	}
	return id, err
}

func (r *REPL) lookup(s string) (*synthtree.Node, error) {
	id, err := parseID(s)
	if err != nil {
		return nil, err
	}
	n := r.graph.Find(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", synthtree.ErrNodeNotFound, id)
	}
	return n, nil
}

func parsePosition(s string) (synthtree.Position, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return synthtree.PositionFromAddAction(v)
	}
	return synthtree.ParsePosition(s)
}

// placement reads optional [action] [target] arguments and returns the
// remaining arguments.
func (r *REPL) placement(args []string) (*synthtree.Node, synthtree.PositionSpec, []string, error) {
	pos, target := synthtree.Head, synthtree.RootID
	if len(args) > 0 {
		p, err := parsePosition(args[0])
		if err != nil {
			return nil, synthtree.PositionSpec{}, nil, err
		}
		pos = p
		args = args[1:]
	}
	if len(args) > 0 {
		id, err := parseID(args[0])
		if err != nil {
			return nil, synthtree.PositionSpec{}, nil, err
		}
		target = id
		args = args[1:]
	}
	group, spec, err := r.graph.SpecFor(target, pos)
	return group, spec, args, err
}

func (r *REPL) cmdSynth(args []string) {
	if len(args) < 2 {
		r.println("Usage: synth <def> <id> [action] [target] [slot value ...]")
		return
	}
	def, err := r.defs.Lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	id, err := r.newID(args[1])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	group, spec, rest, err := r.placement(args[2:])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if len(rest)%2 != 0 {
		r.println("Error: controls must be slot/value pairs")
		return
	}

	n, err := r.graph.AddSynth(id, def, group, spec)
	if err != nil {
		r.printf("Error creating synth: %v\n", err)
		return
	}
	for i := 0; i < len(rest); i += 2 {
		v, err := strconv.ParseFloat(rest[i+1], 32)
		if err != nil {
			r.printf("Error: invalid value %q\n", rest[i+1])
			continue
		}
		if err := r.graph.Set(n, synthtree.ParseSlot(rest[i]), float32(v)); err != nil {
			r.printf("Error setting %s: %v\n", rest[i], err)
		}
	}
	r.printf("Created synth %d (%s) %s\n", id, def.Name(), spec)
}

func (r *REPL) cmdGroup(args []string, parallel bool) {
	if len(args) < 1 {
		if parallel {
			r.println("Usage: pgroup <id> [action] [target]")
		} else {
			r.println("Usage: group <id> [action] [target]")
		}
		return
	}
	id, err := r.newID(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	group, spec, _, err := r.placement(args[1:])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}

	add := r.graph.AddGroup
	kind := "group"
	if parallel {
		add = r.graph.AddParallelGroup
		kind = "parallel group"
	}
	if _, err := add(id, group, spec); err != nil {
		r.printf("Error creating %s: %v\n", kind, err)
		return
	}
	r.printf("Created %s %d %s\n", kind, id, spec)
}

// eachNode runs fn for every id argument, reporting lookup errors.
func (r *REPL) eachNode(args []string, fn func(n *synthtree.Node) error) {
	for _, a := range args {
		n, err := r.lookup(a)
		if err == nil {
			err = fn(n)
		}
		if err != nil {
			r.printf("Error on %s: %v\n", a, err)
		}
	}
}

func (r *REPL) cmdFree(args []string) {
	if len(args) < 1 {
		r.println("Usage: free <id> ...")
		return
	}
	r.eachNode(args, func(n *synthtree.Node) error {
		id := n.ID()
		if err := r.graph.Free(n); err != nil {
			return err
		}
		r.printf("Freed %d\n", id)
		return nil
	})
}

func (r *REPL) cmdFreeAll(args []string) {
	if len(args) < 1 {
		r.println("Usage: freeall <group> ...")
		return
	}
	r.eachNode(args, r.graph.FreeAll)
}

func (r *REPL) cmdDeepFree(args []string) {
	if len(args) < 1 {
		r.println("Usage: deepfree <group> ...")
		return
	}
	r.eachNode(args, r.graph.DeepFree)
}

func (r *REPL) cmdMove(args []string) {
	if len(args) != 3 {
		r.println("Usage: move <id> <action> <target>")
		return
	}
	n, err := r.lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	group, spec, _, err := r.placement(args[1:])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if err := r.graph.Move(n, group, spec); err != nil {
		r.printf("Error moving: %v\n", err)
		return
	}
	r.printf("Moved %d %s\n", n.ID(), spec)
}

func (r *REPL) cmdReid(args []string) {
	if len(args) != 2 {
		r.println("Usage: reid <id> <new-id>")
		return
	}
	n, err := r.lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	id, err := parseID(args[1])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	old := n.ID()
	if err := r.graph.Reidentify(n, id); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if h, ok := r.handles[old]; ok {
		delete(r.handles, old)
		r.handles[id] = h
	}
	r.printf("Node %d is now %d\n", old, id)
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 3 || len(args)%2 == 0 {
		r.println("Usage: set <id> <slot> <value> ...")
		return
	}
	n, err := r.lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	for i := 1; i < len(args); i += 2 {
		v, err := strconv.ParseFloat(args[i+1], 32)
		if err != nil {
			r.printf("Error: invalid value %q\n", args[i+1])
			continue
		}
		if err := r.graph.Set(n, synthtree.ParseSlot(args[i]), float32(v)); err != nil {
			r.printf("Error setting %s: %v\n", args[i], err)
		}
	}
}

func (r *REPL) cmdSetN(args []string) {
	if len(args) < 3 {
		r.println("Usage: setn <id> <slot> <value> ...")
		return
	}
	n, err := r.lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	values := make([]float32, 0, len(args)-2)
	for _, s := range args[2:] {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			r.printf("Error: invalid value %q\n", s)
			return
		}
		values = append(values, float32(v))
	}
	if err := r.graph.SetN(n, synthtree.ParseSlot(args[1]), values); err != nil {
		r.printf("Error: %v\n", err)
	}
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 2 {
		r.println("Usage: get <id> <slot>")
		return
	}
	n, err := r.lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	v, err := n.Get(synthtree.ParseSlot(args[1]))
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("%d %s = %g\n", n.ID(), args[1], v)
}

func (r *REPL) cmdRun(args []string, run bool) {
	if len(args) < 1 {
		r.println("Usage: run <id> [0|1] ... | pause <id> ...")
		return
	}
	// "run 1000 0 1001 1" pairs ids with flags; "run 1000 1001" resumes all.
	if run && len(args)%2 == 0 && isFlag(args[1]) {
		for i := 0; i < len(args); i += 2 {
			r.setRunning(args[i], args[i+1] == "1")
		}
		return
	}
	for _, a := range args {
		r.setRunning(a, run)
	}
}

func isFlag(s string) bool {
	return s == "0" || s == "1"
}

func (r *REPL) setRunning(arg string, run bool) {
	n, err := r.lookup(arg)
	if err != nil {
		r.printf("Error on %s: %v\n", arg, err)
		return
	}
	if run {
		n.Resume()
	} else {
		n.Pause()
	}
}

func (r *REPL) cmdHold(args []string) {
	if len(args) != 1 {
		r.println("Usage: hold <id>")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if _, held := r.handles[id]; held {
		r.printf("Already holding %d\n", id)
		return
	}
	h, err := r.graph.Acquire(id)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.handles[id] = h
	n, _ := h.Node()
	r.printf("Holding %d (refs %d)\n", id, n.Refs())
}

func (r *REPL) cmdRelease(args []string) {
	if len(args) != 1 {
		r.println("Usage: release <id>")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	h, ok := r.handles[id]
	if !ok {
		r.printf("No handle held on %d\n", id)
		return
	}
	delete(r.handles, id)
	h.Release()
	r.printf("Released %d\n", id)
}

func (r *REPL) releaseAll() {
	for id, h := range r.handles {
		h.Release()
		delete(r.handles, id)
	}
}

func (r *REPL) cmdTree() {
	r.graph.Walk(func(n *synthtree.Node, depth int) bool {
		r.printf("%s%s\n", strings.Repeat("  ", depth), describe(n))
		return true
	})
}

func (r *REPL) cmdNodes() {
	r.printf("%d live nodes\n", r.graph.Len())
	r.graph.Ascend(func(n *synthtree.Node) bool {
		r.printf("  %s\n", describe(n))
		return true
	})
}

func (r *REPL) cmdInfo(args []string) {
	if len(args) != 1 {
		r.println("Usage: info <id>")
		return
	}
	n, err := r.lookup(args[0])
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.println(describe(n))
	if p := n.Parent(); p != nil {
		r.printf("  parent:   %d\n", p.ID())
	}
	if prev := n.PreviousNode(); prev != nil {
		r.printf("  previous: %d\n", prev.ID())
	}
	if next := n.NextNode(); next != nil {
		r.printf("  next:     %d\n", next.ID())
	}
	r.printf("  refs:     %d\n", n.Refs())
	if n.IsGroup() {
		r.printf("  children: %d\n", n.ChildCount())
		return
	}
	controls := n.Controls()
	for _, p := range n.Def().Params() {
		i, _ := n.Def().ControlIndex(p.Name)
		size := max(p.Size, 1)
		r.printf("  %-8s %v\n", p.Name+":", controls[i:i+size])
	}
}

// describe renders a node on one line.
func describe(n *synthtree.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d ", n.ID())
	switch {
	case n.IsSynth():
		fmt.Fprintf(&b, "synth %s", n.Def().Name())
	case n.IsParallel():
		b.WriteString("pgroup")
	default:
		b.WriteString("group")
	}
	if !n.IsRunning() {
		b.WriteString(" (paused)")
	}
	return b.String()
}

func (r *REPL) cmdDefs() {
	for _, name := range r.defs.Names() {
		def, err := r.defs.Lookup(name)
		if err != nil {
			continue
		}
		params := make([]string, 0)
		for _, p := range def.Params() {
			s := fmt.Sprintf("%s=%g", p.Name, p.Default)
			if p.Size > 1 {
				s = fmt.Sprintf("%s:%d=%g", p.Name, p.Size, p.Default)
			}
			params = append(params, s)
		}
		r.printf("  %-10s %s\n", name, strings.Join(params, " "))
	}
}

func (r *REPL) cmdDef(args []string) {
	if len(args) < 1 {
		r.println("Usage: def <name> <param[:size][=default]> ...")
		return
	}
	params := make([]synthtree.Param, 0, len(args)-1)
	for _, a := range args[1:] {
		p, err := parseParam(a)
		if err != nil {
			r.printf("Error: %v\n", err)
			return
		}
		params = append(params, p)
	}
	def, err := synthtree.NewSynthDef(args[0], params...)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.defs.Register(def)
	r.printf("Defined %s with %d controls\n", def.Name(), def.NumControls())
}

// parseParam reads name[:size][=default].
func parseParam(s string) (synthtree.Param, error) {
	var p synthtree.Param
	spec, value, hasDefault := strings.Cut(s, "=")
	name, size, hasSize := strings.Cut(spec, ":")
	p.Name = name
	if hasSize {
		n, err := strconv.Atoi(size)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid size in %q", s)
		}
		p.Size = n
	}
	if hasDefault {
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return p, fmt.Errorf("invalid default in %q", s)
		}
		p.Default = float32(v)
	}
	return p, nil
}

func (r *REPL) cmdStats() {
	s := r.graph.Stats()
	r.println("Nodes:")
	r.printf("  live:      %d (%d synths, %d groups in slots)\n", s.LiveNodes, s.Synths, s.Groups)
	r.printf("  retired:   %d\n", s.Retired)
	r.printf("  slots:     %d free of %d\n", s.FreeSlots, s.Slots)
	r.printf("  created:   %d, destroyed: %d, refused: %d\n", s.Created, s.Destroyed, s.SlotExhaustion)
	r.println("Arena:")
	r.printf("  capacity:  %s\n", humanize.IBytes(uint64(s.Arena.Capacity)))
	r.printf("  used:      %s (%s requested)\n", humanize.IBytes(uint64(s.Arena.Used)), humanize.IBytes(uint64(s.Arena.Requested)))
	r.printf("  largest:   %s free\n", humanize.IBytes(uint64(s.Arena.LargestFree)))
	r.printf("  blocks:    %s live, %s allocations, %d failures\n",
		humanize.Comma(int64(s.Arena.LiveBlocks)), humanize.Comma(int64(s.Arena.Allocations)), s.Arena.Failures)
	if s.UnderPressure {
		r.println("  WARNING: arena usage above soft limit")
	}
	r.printf("Handles held: %d\n", len(r.handles))
}
