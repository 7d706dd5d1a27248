// Command repcrec replays an instruction script against the replicated
// SSI transaction engine and prints the stable, line-oriented protocol
// spec.md §6 defines.
//
// It owns every ambient concern the coordinator packages stay silent
// about: flag parsing, file I/O, the verbose diagnostic stream, and the
// run id that tags that stream — the same split cmd/tinysql/main.go
// (teacher) draws between its Config and the engine it drives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/repcrec/internal/config"
	"github.com/SimonWaldherr/repcrec/internal/dispatch"
	"github.com/SimonWaldherr/repcrec/internal/registry"
	"github.com/SimonWaldherr/repcrec/internal/txn"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("repcrec", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: repcrec [OPTIONS] FILENAME\n")
		fs.PrintDefaults()
	}
	verbose := fs.Bool("v", false, "Emit a verbose diagnostic trace (abort reasons, queue admission) to stderr")
	configPath := fs.String("config", "", "Optional YAML config overriding site/item counts")
	status := fs.Bool("status", false, "After the script runs, print a table of every transaction's final status")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}
	inputPath := fs.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *verbose {
		cfg.Verbose = true
	}

	f, err := os.Open(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	var verboseLog *log.Logger
	if cfg.Verbose {
		verboseLog = log.New(os.Stderr, fmt.Sprintf("[%s] ", uuid.NewString()[:8]), log.LstdFlags)
	}

	reg := registry.New(cfg.RegistryConfig())
	tm := txn.New(reg)
	d := dispatch.New(tm, reg, os.Stdout, verboseLog)

	if err := d.Run(context.Background(), f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *status {
		printStatusTable(os.Stdout, tm)
	}
	return 0
}

func printStatusTable(out *os.File, tm *txn.Manager) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TXN\tSTATUS\tSTART\tCOMMIT\tREAD-ONLY")
	for _, s := range tm.Snapshot() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\n", s.ID, s.Status, s.StartTime, s.CommitTime, s.IsReadOnly)
	}
	w.Flush()
}
