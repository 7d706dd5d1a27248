package dispatch

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/SimonWaldherr/repcrec/internal/registry"
	"github.com/SimonWaldherr/repcrec/internal/script"
	"github.com/SimonWaldherr/repcrec/internal/txn"
)

func newDispatcher(t *testing.T) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	tm := txn.New(reg)
	var out bytes.Buffer
	return New(tm, reg, &out, log.New(&bytes.Buffer{}, "", 0)), &out
}

// Scenario 1 end to end, through the script/dispatch layer.
func TestRunBasicCommitScenario(t *testing.T) {
	d, out := newDispatcher(t)
	src := "begin(T1)\nW(T1,x1,101)\nend(T1)\ndump()\n"

	if err := d.Run(context.Background(), strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{"T1 begins", "T1 writes 101 to x1 at sites [2]", "T1 commits", "site 2 - x1: 101"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q, got:\n%s", want, got)
		}
	}
}

func TestRunImpossibleReadAborts(t *testing.T) {
	d, out := newDispatcher(t)
	src := "fail(2)\nbegin(T1)\nR(T1,x1)\n"

	if err := d.Run(context.Background(), strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "Site 2 fails") || !strings.Contains(got, "T1 begins") || !strings.Contains(got, "T1 aborts") {
		t.Fatalf("expected fail/begin/abort lines, got:\n%s", got)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, strings.NewReader("begin(T1)\n"))
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func TestExecUnknownVerb(t *testing.T) {
	d, _ := newDispatcher(t)
	err := d.Exec(script.Instruction{Verb: "frobnicate", Args: nil}, 1)
	if err == nil {
		t.Fatal("expected an error for an unknown verb")
	}
}
