// Package script implements the out-of-scope collaborators spec.md §6
// names: line-oriented comment stripping and the verb(arg1, arg2, …)
// tokenizer for the instruction language. Neither component touches
// coordinator state — they only turn text into instructions.
//
// What: turns a script file into an ordered list of cleaned instruction
// lines, then each line into a verb plus its comma-separated arguments.
// How: a single-pass scan per line, the same minimal-tokenizer approach
// the teacher's SQL lexer (internal/engine/lexer.go, not carried into this
// module) uses for its own comment handling, simplified because this
// grammar has no operators, strings, or precedence to worry about.
// Why: keeping tokenizing entirely mechanical — no knowledge of verbs,
// arities, or coordinator semantics — is what spec.md §1 means by "out of
// scope": this package would be identical for a completely different
// instruction set.
package script

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Instruction is one parsed script line: a verb and its arguments, still
// as strings — arity and type checking belong to the caller (the
// dispatcher), since this package knows nothing about what verbs exist.
type Instruction struct {
	Verb string
	Args []string
}

// ReadLines strips `//` comments (a bare `//` begins a line or trailing
// comment) and blank lines from r, returning the surviving lines in
// order. The Nth entry of the result is, by spec.md §6, processed at
// timestamp N.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return lines, nil
}

// Parse tokenizes one cleaned instruction line of the form
// "verb(arg1, arg2, …)" into an Instruction. Whitespace around the verb
// and each argument is trimmed.
func Parse(line string) (Instruction, error) {
	line = strings.TrimSpace(line)
	open := strings.IndexByte(line, '(')
	if open < 0 || !strings.HasSuffix(line, ")") {
		return Instruction{}, fmt.Errorf("malformed instruction %q: expected verb(args)", line)
	}
	verb := strings.TrimSpace(line[:open])
	if verb == "" {
		return Instruction{}, fmt.Errorf("malformed instruction %q: missing verb", line)
	}
	inner := strings.TrimSpace(line[open+1 : len(line)-1])

	var args []string
	if inner != "" {
		for _, a := range strings.Split(inner, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	return Instruction{Verb: verb, Args: args}, nil
}
