// Package dispatch implements InstructionDispatcher: the thin router that
// assigns each script line its timestamp and maps it to a
// TransactionManager or SiteRegistry call, per the table in spec.md §4.4.
//
// What: turns a stream of already-tokenized Instructions into coordinator
// calls, and renders the stable, line-oriented console protocol spec.md
// §6 defines.
// How: one switch over the verb, one timestamp counter incremented per
// processed line (the Nth non-comment, non-blank line runs at timestamp
// N), and a context.Context checked between instructions so a long script
// can be cancelled cooperatively — the same idiom the teacher's worker
// pool uses for cancellation, here applied to a single-threaded loop since
// spec.md §5 rules out any actual concurrency.
// Why: every other component is oblivious to "line number" as a concept;
// collecting that bookkeeping in one small router keeps the timestamp a
// pure implementation detail of how scripts are replayed, not part of the
// transaction/registry APIs.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/SimonWaldherr/repcrec/internal/registry"
	"github.com/SimonWaldherr/repcrec/internal/script"
	"github.com/SimonWaldherr/repcrec/internal/txn"
)

// Dispatcher routes parsed instructions to the coordinator.
type Dispatcher struct {
	TM       *txn.Manager
	Registry *registry.Registry
	Out      io.Writer
	Verbose  *log.Logger // nil disables verbose diagnostics
}

// New builds a Dispatcher. verbose may be nil to disable diagnostic
// tracing.
func New(tm *txn.Manager, reg *registry.Registry, out io.Writer, verbose *log.Logger) *Dispatcher {
	return &Dispatcher{TM: tm, Registry: reg, Out: out, Verbose: verbose}
}

// Run reads a whole script from r, assigning timestamp N to its Nth
// surviving instruction line, and executes each in order. It stops early
// if ctx is cancelled between instructions.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	lines, err := script.ReadLines(r)
	if err != nil {
		return err
	}
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		instr, err := script.Parse(line)
		if err != nil {
			return err
		}
		ts := txn.Timestamp(i + 1)
		if err := d.Exec(instr, ts); err != nil {
			return fmt.Errorf("line %d (%q): %w", i+1, line, err)
		}
	}
	return nil
}

// Exec runs a single already-parsed, already-timestamped instruction.
func (d *Dispatcher) Exec(instr script.Instruction, ts txn.Timestamp) error {
	switch instr.Verb {
	case "begin":
		return d.begin(instr.Args, ts)
	case "R":
		return d.read(instr.Args, ts)
	case "W":
		return d.write(instr.Args, ts)
	case "end":
		return d.end(instr.Args, ts)
	case "fail":
		return d.fail(instr.Args, ts)
	case "recover":
		return d.recover(instr.Args, ts)
	case "dump":
		return d.dump()
	default:
		return fmt.Errorf("unknown verb %q", instr.Verb)
	}
}

func (d *Dispatcher) begin(args []string, ts txn.Timestamp) error {
	if len(args) != 1 {
		return fmt.Errorf("begin expects 1 argument, got %d", len(args))
	}
	tid := args[0]
	if err := d.TM.Begin(tid, ts); err != nil {
		d.logf("begin(%s) rejected: %v", tid, err)
		return nil
	}
	d.printf("%s begins", tid)
	return nil
}

func (d *Dispatcher) read(args []string, ts txn.Timestamp) error {
	if len(args) != 2 {
		return fmt.Errorf("R expects 2 arguments, got %d", len(args))
	}
	tid, item := args[0], args[1]
	res, err := d.TM.Read(tid, item, ts, false)
	if err != nil {
		d.logf("R(%s, %s) rejected: %v", tid, item, err)
		return nil
	}
	d.reportReadResult(tid, item, res)
	return nil
}

func (d *Dispatcher) write(args []string, ts txn.Timestamp) error {
	if len(args) != 3 {
		return fmt.Errorf("W expects 3 arguments, got %d", len(args))
	}
	tid, item := args[0], args[1]
	value, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("W value %q is not an integer: %w", args[2], err)
	}
	res, err := d.TM.Write(tid, item, value, ts, false)
	if err != nil {
		d.logf("W(%s, %s, %d) rejected: %v", tid, item, value, err)
		return nil
	}
	d.reportWriteResult(tid, item, value, res)
	return nil
}

func (d *Dispatcher) end(args []string, ts txn.Timestamp) error {
	if len(args) != 1 {
		return fmt.Errorf("end expects 1 argument, got %d", len(args))
	}
	tid := args[0]
	res, err := d.TM.End(tid, ts)
	if err != nil {
		d.logf("end(%s) rejected: %v", tid, err)
		return nil
	}
	if res.Committed {
		d.printf("%s commits", tid)
	} else {
		d.printf("%s aborts", tid)
		d.logf("%s aborted: %v", tid, res.AbortKind)
	}
	return nil
}

func (d *Dispatcher) fail(args []string, ts txn.Timestamp) error {
	if len(args) != 1 {
		return fmt.Errorf("fail expects 1 argument, got %d", len(args))
	}
	sid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("fail site %q is not an integer: %w", args[0], err)
	}
	d.Registry.Fail(sid, ts)
	d.printf("Site %d fails", sid)
	return nil
}

func (d *Dispatcher) recover(args []string, ts txn.Timestamp) error {
	if len(args) != 1 {
		return fmt.Errorf("recover expects 1 argument, got %d", len(args))
	}
	sid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("recover site %q is not an integer: %w", args[0], err)
	}
	d.Registry.Recover(sid, ts)
	d.TM.ExecPending(sid, ts)
	d.printf("Site %d recovers", sid)
	return nil
}

func (d *Dispatcher) dump() error {
	for _, line := range d.Registry.Dump() {
		d.printf("%s", line)
	}
	return nil
}

func (d *Dispatcher) reportReadResult(tid, item string, res txn.ReadResult) {
	switch {
	case res.Aborted:
		d.printf("%s aborts", tid)
		d.logf("%s aborted: %v", tid, res.AbortKind)
	case res.Delivered:
		d.printf("%s: %d", item, res.Value)
	case res.Queued:
		d.logf("R(%s, %s) queued: no previously-running site is up", tid, item)
	}
}

func (d *Dispatcher) reportWriteResult(tid, item string, value int, res txn.WriteResult) {
	switch {
	case res.Queued:
		d.logf("W(%s, %s, %d) queued: no site is up", tid, item, value)
	default:
		d.printf("%s writes %d to %s at sites %s", tid, value, item, formatSiteList(res.Sites))
	}
}

func formatSiteList(sites []int) string {
	parts := make([]string, len(sites))
	for i, s := range sites {
		parts[i] = strconv.Itoa(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (d *Dispatcher) printf(format string, args ...any) {
	fmt.Fprintf(d.Out, format+"\n", args...)
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.Verbose != nil {
		d.Verbose.Printf(format, args...)
	}
}
