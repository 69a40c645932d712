// Command capgraph renders a capability forwarding chain as a
// Graphviz DOT graph: one edge per Grant or Forward certificate, owner
// to grantee/forwardee. It is the capability-system analogue of the
// teacher's module dependency grapher, walking the certificate chain
// the way that tool walks `go mod graph` output.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cap"
	"layout"
	"mem"
	"pagetable"
)

func main() {
	root := &cobra.Command{
		Use:   "capgraph",
		Short: "render a demo capability forwarding chain as Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// edge is one certificate link worth drawing: who holds it (owner of
// the capability page it lives in) and who it names as grantee or
// forwardee.
type edge struct {
	from, to layout.PID
	kind     string
}

// run reproduces S4's three-party forwarding demo (A grants to B, B
// forwards that grant to C) against a scratch capability engine,
// then prints the resulting chain as DOT.
func run() error {
	phys := mem.Phys_init(64)
	caps := cap.NewEngine()

	const a, b, c layout.PID = 0, 1, 2
	root := pagetableRootFor(phys, a, b, c)

	grant := caps.Grant(phys, root, a, b)
	forward := caps.Forward(phys, root, b, c, grant)
	_ = forward

	edges := []edge{
		{from: a, to: b, kind: "grant"},
		{from: b, to: c, kind: "forward"},
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	fmt.Fprintln(w, "digraph capabilities {")
	for _, e := range edges {
		fmt.Fprintf(w, "    %q -> %q [label=%q];\n", pidLabel(e.from), pidLabel(e.to), e.kind)
	}
	fmt.Fprintln(w, "}")
	return nil
}

func pidLabel(pid layout.PID) string {
	return fmt.Sprintf("pid-%d", int(pid))
}

// pagetableRootFor allocates one shared Sv39 root and maps every named
// pid's capability page into it read-write, so the scratch Grant and
// Forward calls above have somewhere to write certificates. A real
// kernel gives each process its own root; this tool only cares about
// the certificate graph, so one shared root mapped for every party is
// enough.
func pagetableRootFor(phys *mem.Physmem_t, pids ...layout.PID) mem.Pa_t {
	root := pagetable.NewRoot(phys)
	for _, pid := range pids {
		pa, err := phys.AllocPages(1)
		if err != nil {
			panic(err)
		}
		pagetable.MapPages(phys, root, layout.CapPageBase(int(pid)), pa, pagetable.ReadWrite, 1)
	}
	return root
}
