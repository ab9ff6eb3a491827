// Command cachectl drives the build cache engine over one or more
// modules, standing in for the orchestrator at the edge of the
// process the way cmd/distri hosts internal/build.Ctx.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/distr1/cachecore"
	"github.com/distr1/cachecore/internal/oninterrupt"
	"github.com/distr1/cachecore/internal/trace"
)

var (
	debug      = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")
	cpuprofile = flag.String("cpuprofile", "", "path to store a CPU profile at")
	ctracefile = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
)

func funcmain() error {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		trace.Sink(f)
	}

	type verb struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]verb{
		"run":   {cmdrun},
		"env":   {cmdenv},
		"clear": {cmdclear},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "cachectl [-flags] <command> [-flags] <args>\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "\trun    - run one or more modules through the cache\n")
		fmt.Fprintf(os.Stderr, "\tenv    - print the resolved cache environment\n")
		fmt.Fprintf(os.Stderr, "\tclear  - evict a module's local cache entry\n")
		os.Exit(2)
	}
	name, rest := args[0], args[1:]
	v, ok := verbs[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	ctx, canc := cache.InterruptibleContext()
	defer canc()
	oninterrupt.Register(func() { log.Printf("cachectl: interrupted, any in-flight staging areas are left for inspection") })

	if err := v.fn(ctx, rest); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", name, err)
		}
		return fmt.Errorf("%s: %v", name, err)
	}
	return cache.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
