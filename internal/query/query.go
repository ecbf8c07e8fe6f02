// Package query parses the command-line query grammar described in spec
// §4.5: `project/cfg1:cfg2:key arg1 name=arg2 "quoted arg"`, with
// semicolon-separated multiple commands. It is grounded on the teacher's
// internal/nodeid/parser.go: a small regex validates bareword identifiers,
// and explicit, specific error messages are produced for malformed input
// rather than a single generic parse failure.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crucible-build/crucible/internal/input"
)

// identifierRegex matches a single bareword identifier segment: letters,
// digits, underscore, dot and dash. It deliberately excludes the grammar's
// own separator characters (/ : = ; and whitespace).
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Command is one parsed scoped-task invocation with its inputs.
type Command struct {
	// Project is the optional leading "project/" segment.
	Project string
	// Configs is the ordered "cfg1:cfg2:" chain, outermost first.
	Configs []string
	// Key is the final identifier in the scoped-task.
	Key string
	// Named holds "name=value" inputs in declaration order.
	Named []input.Named
	// Positional holds bareword/quoted inputs with no "name=" prefix, in
	// declaration order.
	Positional []string
}

// ErrEmptyQuery names the empty-command condition. Parse does not return
// it: command segments that are empty after trimming whitespace are
// skipped.
var ErrEmptyQuery = fmt.Errorf("query: empty command")

// Parse splits raw on unescaped semicolons and parses each resulting
// command independently. An empty raw string yields no commands, not an
// error — callers decide whether an empty query list is acceptable (e.g.
// entering interactive mode).
func Parse(raw string) ([]Command, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	segments, err := splitUnescaped(raw, ';')
	if err != nil {
		return nil, err
	}
	cmds := make([]Command, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		cmd, err := parseCommand(seg)
		if err != nil {
			return nil, fmt.Errorf("query: %q: %w", seg, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func parseCommand(seg string) (Command, error) {
	task, rest, err := splitScopedTaskAndInputs(seg)
	if err != nil {
		return Command{}, err
	}
	cmd, err := parseScopedTask(task)
	if err != nil {
		return Command{}, err
	}
	inputs, err := tokenizeInputs(rest)
	if err != nil {
		return Command{}, err
	}
	for _, tok := range inputs {
		if name, value, ok := splitNamedInput(tok); ok {
			cmd.Named = append(cmd.Named, input.Named{Name: name, Value: value})
		} else {
			cmd.Positional = append(cmd.Positional, tok)
		}
	}
	return cmd, nil
}

// splitScopedTaskAndInputs separates the leading scoped-task (no
// unescaped whitespace) from the trailing input tokens.
func splitScopedTaskAndInputs(seg string) (task, rest string, err error) {
	idx := -1
	escaped := false
	inQuotes := false
	for i, r := range seg {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			inQuotes = !inQuotes
		case ' ', '\t':
			if !inQuotes {
				idx = i
			}
		}
		if idx != -1 {
			break
		}
	}
	if idx == -1 {
		return seg, "", nil
	}
	return seg[:idx], strings.TrimSpace(seg[idx:]), nil
}

// parseScopedTask parses "(identifier '/')? (identifier ':')* identifier".
func parseScopedTask(task string) (Command, error) {
	if task == "" {
		return Command{}, fmt.Errorf("missing scoped task")
	}

	var cmd Command
	body := task
	if slashParts, err := splitUnescaped(task, '/'); err != nil {
		return Command{}, err
	} else if len(slashParts) > 2 {
		return Command{}, fmt.Errorf("too many %q separators in scoped task", "/")
	} else if len(slashParts) == 2 {
		cmd.Project = unescape(slashParts[0])
		if !identifierRegex.MatchString(cmd.Project) {
			return Command{}, fmt.Errorf("invalid project identifier: %q", cmd.Project)
		}
		body = slashParts[1]
	}

	colonParts, err := splitUnescaped(body, ':')
	if err != nil {
		return Command{}, err
	}
	if len(colonParts) == 0 || colonParts[len(colonParts)-1] == "" {
		return Command{}, fmt.Errorf("missing key identifier")
	}
	for _, c := range colonParts[:len(colonParts)-1] {
		name := unescape(c)
		if !identifierRegex.MatchString(name) {
			return Command{}, fmt.Errorf("invalid configuration identifier: %q", name)
		}
		cmd.Configs = append(cmd.Configs, name)
	}
	cmd.Key = unescape(colonParts[len(colonParts)-1])
	if !identifierRegex.MatchString(cmd.Key) {
		return Command{}, fmt.Errorf("invalid key identifier: %q", cmd.Key)
	}
	return cmd, nil
}

// splitNamedInput splits "name=value" on the first unescaped '='; name
// must itself be a valid identifier, otherwise the whole token is treated
// as positional (e.g. a bareword that happens to contain '=' inside quotes
// is not miscategorized).
func splitNamedInput(tok string) (name, value string, ok bool) {
	parts, err := splitUnescaped(tok, '=')
	if err != nil || len(parts) != 2 {
		return "", "", false
	}
	name = unescape(parts[0])
	if !identifierRegex.MatchString(name) {
		return "", "", false
	}
	return name, dequote(parts[1]), true
}

// tokenizeInputs splits rest on unescaped, unquoted whitespace, honoring
// double-quoted strings as single tokens.
func tokenizeInputs(rest string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	escaped := false
	inQuotes := false
	haveToken := false

	flush := func() {
		if haveToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			haveToken = false
		}
	}

	for _, r := range rest {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			haveToken = true
			continue
		}
		switch {
		case r == '\\':
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			haveToken = true
		case (r == ' ' || r == '\t') && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	if escaped {
		return nil, fmt.Errorf("trailing escape character")
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()
	return tokens, nil
}

// dequote strips one layer of surrounding double quotes from a named-input
// value. tokenizeInputs already removes unescaped quotes (name="a b"
// arrives as name=a b), so this only affects values whose quotes were
// backslash-escaped.
func dequote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// splitUnescaped splits s on sep, ignoring occurrences of sep inside
// double-quoted regions or preceded by a backslash.
func splitUnescaped(s string, sep rune) ([]string, error) {
	var parts []string
	var cur strings.Builder
	escaped := false
	inQuotes := false

	for _, r := range s {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
			cur.WriteRune(r)
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == sep && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("trailing escape character")
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	parts = append(parts, cur.String())
	return parts, nil
}

// unescape removes backslash-escaping from separator characters, used
// after a segment has already been isolated by splitUnescaped.
func unescape(s string) string {
	var out strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			out.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// String renders cmd back into its canonical query form, used for
// round-trip tests and machine-readable tracing.
func (c Command) String() string {
	var b strings.Builder
	if c.Project != "" {
		b.WriteString(c.Project)
		b.WriteByte('/')
	}
	for _, cfg := range c.Configs {
		b.WriteString(cfg)
		b.WriteByte(':')
	}
	b.WriteString(c.Key)
	for _, n := range c.Named {
		fmt.Fprintf(&b, " %s=%s", n.Name, n.Value)
	}
	for _, p := range c.Positional {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	return b.String()
}
