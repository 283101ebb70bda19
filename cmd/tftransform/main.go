// Package main provides the tftransform CLI, which packs TensorFlow models
// into transform containers and inspects containers and Arrow data files.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "**err**: %v\n", err)
		os.Exit(1)
	}
}

// run parses the global flags and dispatches to the named subcommand.
func run(args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.command()
	if err := root.Flag.Parse(args); err != nil {
		return err
	}
	return root.Dispatch(root.Flag.Args())
}
