// Command ade runs goals against a database of hierarchical action
// definitions.
package main

import (
	"os"

	"github.com/roach88/ade/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
