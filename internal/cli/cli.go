// Package cli implements the query command-line surface described in
// spec §6: positional query strings evaluated against a project's
// scopes, an interactive mode, and machine-readable output. The command
// tree is built with github.com/spf13/cobra, grounded on
// matzehuels-stacktower/internal/cli/root.go's root-command wiring; the
// typed exit-code error is kept in spirit from the teacher's
// internal/cli/cli.go ExitError.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crucible-build/crucible/internal/ctxlog"
	"github.com/crucible-build/crucible/internal/evaluator"
	"github.com/crucible-build/crucible/internal/input"
	"github.com/crucible-build/crucible/internal/query"
	"github.com/crucible-build/crucible/internal/scope"
)

// ExitError is returned from Execute to signal the process exit code the
// caller's main() should use, the same shape as the teacher's
// internal/cli.ExitError.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// KeyEvaluator evaluates one named key against a scope-bound context,
// erasing the generic key.Key[V] type at this boundary since the CLI
// has no static knowledge of V. A buildapi-level registry supplies
// these, one closure per declared key.
type KeyEvaluator func(sctx *scope.Context) (any, error)

// KeyRegistry resolves a query's trailing key identifier to its
// evaluator.
type KeyRegistry interface {
	Lookup(name string) (KeyEvaluator, bool)
}

// ConfigResolver resolves a query's ':'-separated configuration
// identifiers to the scope.Configuration they name.
type ConfigResolver interface {
	Resolve(name string) (scope.Configuration, bool)
}

// App wires a concrete project's base scope, configuration namespace and
// key registry to the query CLI surface.
type App struct {
	BaseScope *scope.Scope
	Table     *scope.Table
	Evaluator *evaluator.Evaluator
	Configs   ConfigResolver
	Keys      KeyRegistry
	Stdout    io.Writer
	Stderr    io.Writer
	Stdin     io.Reader

	// ApplyFlags, if set, is called once per invocation with the parsed
	// --offline/--workers flags so the buildapi-level project can rebind
	// whatever keys consult them (e.g. a "repositories" key that filters
	// to local repositories when offline). Keeping this a single
	// explicit call, rather than ambient context state read from inside
	// bindings, matches the Design Notes' "no ambient implicit state
	// except the current scope handle" rule.
	ApplyFlags func(offline bool, workers int)
}

// ErrKeyNotFound is returned when a query names a key the registry does
// not recognize.
type ErrKeyNotFound struct{ Name string }

func (e *ErrKeyNotFound) Error() string { return fmt.Sprintf("cli: unknown key %q", e.Name) }

// ErrConfigNotFound is returned when a query names a configuration the
// resolver does not recognize.
type ErrConfigNotFound struct{ Name string }

func (e *ErrConfigNotFound) Error() string { return fmt.Sprintf("cli: unknown configuration %q", e.Name) }

// options are the flags described in spec §6: positional query strings
// plus --interactive, --machine-readable-output, --offline, and the
// ambient --log-format/--log-level/--workers flags carried over from the
// teacher's own flag set.
type options struct {
	interactive bool
	machineOut  string
	offline     bool
	logFormat   string
	logLevel    string
	workers     int
}

// NewRootCommand builds the cobra root command for app.
func NewRootCommand(app *App) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "crucible [query ...]",
		Short:         "Crucible resolves, evaluates and assembles JVM-style build graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := withLogging(cmd.Context(), opts, app.Stderr)
			if app.ApplyFlags != nil {
				app.ApplyFlags(opts.offline, opts.workers)
			}
			return run(ctx, app, opts, args)
		},
	}

	root.PersistentFlags().BoolVar(&opts.interactive, "interactive", false, "force interactive prompting for unresolved inputs")
	root.PersistentFlags().StringVar(&opts.machineOut, "machine-readable-output", "", "emit results as 'shell' or 'json' instead of human-readable text")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "disable remote fetches; rely on the local cache only")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log output format: 'text' or 'json'")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: 'debug', 'info', 'warn', or 'error'")
	root.PersistentFlags().IntVar(&opts.workers, "workers", 10, "number of concurrent resolver workers")

	return root
}

// Execute runs root against args, translating a non-nil *ExitError into
// its carried code and any other error into exit code 1.
func Execute(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		var exitErr *ExitError
		if ok := asExitError(err, &exitErr); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func asExitError(err error, target **ExitError) bool {
	if e, ok := err.(*ExitError); ok {
		*target = e
		return true
	}
	return false
}

func withLogging(ctx context.Context, opts *options, stderr io.Writer) context.Context {
	level := slog.LevelInfo
	switch strings.ToLower(opts.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(opts.logFormat) == "text" {
		handler = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})
	}
	return ctxlog.WithLogger(ctx, slog.New(handler))
}

// run executes every query in args in order, stopping at the first
// failure per spec §6 "Exit code 0 on success, non-zero on first failed
// query (rest abandoned)".
func run(ctx context.Context, app *App, opts *options, args []string) error {
	logger := ctxlog.FromContext(ctx)

	if len(args) == 0 {
		if !opts.interactive {
			return &ExitError{Code: 2, Message: "no query given; pass a query or --interactive"}
		}
		return runInteractive(ctx, app, opts)
	}

	for _, raw := range args {
		if err := runOne(ctx, app, opts, raw); err != nil {
			logger.Error("query failed", "query", raw, "error", err)
			return &ExitError{Code: 1, Message: err.Error()}
		}
	}
	return nil
}

func runInteractive(ctx context.Context, app *App, opts *options) error {
	prompter := input.NewPrompter(app.Stdin, app.Stdout)
	for {
		raw, err := prompter.Ask("crucible>", func(string) error { return nil })
		if err != nil {
			if err == input.ErrCanceled {
				return nil
			}
			return err
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := runOne(ctx, app, opts, raw); err != nil {
			fmt.Fprintln(app.Stderr, err)
		}
	}
}

func runOne(ctx context.Context, app *App, opts *options, raw string) error {
	cmds, err := query.Parse(raw)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := evaluateCommand(ctx, app, opts, cmd); err != nil {
			return err
		}
	}
	return nil
}

func evaluateCommand(ctx context.Context, app *App, opts *options, cmd query.Command) error {
	s := app.BaseScope
	for _, name := range cmd.Configs {
		cfg, ok := app.Configs.Resolve(name)
		if !ok {
			return &ErrConfigNotFound{Name: name}
		}
		s = app.Table.Layer(s, cfg)
	}

	fn, ok := app.Keys.Lookup(cmd.Key)
	if !ok {
		return &ErrKeyNotFound{Name: cmd.Key}
	}

	var prompter *input.Prompter
	if opts.interactive {
		prompter = input.NewPrompter(app.Stdin, app.Stdout)
	}
	session := input.NewSession(cmd.Named, cmd.Positional, prompter)

	sctx := app.Evaluator.NewContext(ctx, s, session)
	value, err := fn(sctx)
	if err != nil {
		return err
	}
	return render(app.Stdout, cmd, value, opts.machineOut)
}

// render writes value to out in human-readable, "shell", or "json" form,
// per spec §6 "Machine-readable output".
func render(out io.Writer, cmd query.Command, value any, format string) error {
	switch format {
	case "shell":
		fmt.Fprintln(out, shellFormat(value))
		return nil
	case "json":
		enc := json.NewEncoder(out)
		return enc.Encode(map[string]any{"key": cmd.Key, "value": value})
	default:
		fmt.Fprintf(out, "%s = %v\n", cmd.String(), value)
		return nil
	}
}

func shellFormat(value any) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, " ")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
