// Command crucible is the generic entrypoint described in spec §6. Since
// build-script compilation is explicitly out of scope (there is no
// embedded scripting language — see internal/buildapi's doc comment), this
// binary wires the standard keys (repositories, offline, cache-dir,
// classpath, assemble, ...) against the current working directory with no
// project-specific dependencies declared. A real project copies this
// file, binds its own "dependencies" key, and builds its own binary.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crucible-build/crucible/internal/buildapi"
	"github.com/crucible-build/crucible/internal/cli"
)

func main() {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	b := buildapi.New(filepath.Base(dir), dir)
	b.Project.Lock()

	app := b.App()
	app.Stdout = os.Stdout
	app.Stderr = os.Stderr
	app.Stdin = os.Stdin

	root := cli.NewRootCommand(app)
	os.Exit(cli.Execute(root, os.Args[1:]))
}
