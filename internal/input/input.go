// Package input implements the ordered parameter-sourcing system bindings
// use to read user-supplied values: named inputs first, then positional
// ("free") inputs in declaration order, then an interactive prompt if
// enabled. Consumed inputs are tracked per top-level evaluation and never
// reused.
package input

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Named is a single `name=value` input captured from a query string.
type Named struct {
	Name  string
	Value string
}

// Session sources inputs for one top-level key evaluation: named values,
// positional values, and (if Interactive is non-nil) an interactive
// prompt. It implements scope.InputSource.
type Session struct {
	named       []Named
	positional  []string
	posIdx      int
	consumedPos map[int]bool
	consumedNam map[int]bool
	Interactive *Prompter
}

// NewSession creates a Session from the named and positional inputs parsed
// out of a query command (internal/query), optionally wired to an
// interactive prompter.
func NewSession(named []Named, positional []string, interactive *Prompter) *Session {
	return &Session{
		named:       named,
		positional:  positional,
		consumedPos: make(map[int]bool),
		consumedNam: make(map[int]bool),
		Interactive: interactive,
	}
}

// Read implements scope.InputSource: it returns the first unconsumed named
// input matching name, without falling back to positional or interactive
// sourcing — Read is the low-level primitive; Get applies the full
// named → positional → interactive order described in spec §4.4.
func (s *Session) Read(name string) (string, bool) {
	for i, n := range s.named {
		if s.consumedNam[i] || n.Name != name {
			continue
		}
		s.consumedNam[i] = true
		return n.Value, true
	}
	return "", false
}

// Validator rejects or accepts a candidate input string, optionally
// converting it to V. A rejected candidate causes Get to try the next
// source.
type Validator[V any] func(raw string) (V, error)

// Get sources a value for inputKey per spec §4.4: named inputs matching
// inputKey first, then positional inputs in declaration order, then an
// interactive prompt if enabled — each candidate run through validator
// until one is accepted or all sources are exhausted.
func Get[V any](s *Session, inputKey, prompt string, validator Validator[V]) (V, bool, error) {
	var zero V

	for i, n := range s.named {
		if s.consumedNam[i] || n.Name != inputKey {
			continue
		}
		v, err := validator(n.Value)
		if err == nil {
			s.consumedNam[i] = true
			return v, true, nil
		}
	}

	for s.posIdx < len(s.positional) {
		idx := s.posIdx
		s.posIdx++
		if s.consumedPos[idx] {
			continue
		}
		v, err := validator(s.positional[idx])
		if err == nil {
			s.consumedPos[idx] = true
			return v, true, nil
		}
	}

	if s.Interactive != nil {
		raw, err := s.Interactive.Ask(prompt, func(raw string) error {
			_, verr := validator(raw)
			return verr
		})
		if err != nil {
			return zero, false, err
		}
		v, err := validator(raw)
		return v, err == nil, err
	}

	return zero, false, nil
}

// Prompter asks the user for a value over an interactive terminal,
// re-asking on validation failure until accepted or canceled. It is a
// thin bufio.Scanner wrapper, not a line-editing library: the REPL shell
// itself is out of scope, so a richer terminal UI has no natural home
// here.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter creates a Prompter reading lines from in and writing prompts
// to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// ErrCanceled is returned when the user sends EOF instead of a value.
var ErrCanceled = fmt.Errorf("input: canceled")

// Ask prints prompt, reads a line, and re-asks while validate rejects it.
// validate receiving nil means accept; a non-nil error is shown to the
// user before re-prompting.
func (p *Prompter) Ask(prompt string, validate func(string) error) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", prompt)
		if !p.in.Scan() {
			return "", ErrCanceled
		}
		line := strings.TrimSpace(p.in.Text())
		if err := validate(line); err != nil {
			fmt.Fprintf(p.out, "invalid input: %v\n", err)
			continue
		}
		return line, nil
	}
}
