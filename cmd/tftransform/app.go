package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"

	"github.com/born-ml/tftransform/internal/ctxlog"
)

// app holds the global flags and output streams shared by the subcommands.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	logLevel  string
	logFormat string
}

func (a *app) command() *commander.Command {
	cmd := &commander.Command{
		UsageLine: "tftransform",
		Short:     "packs and inspects TensorFlow transform models",
		Subcommands: []*commander.Command{
			a.packCmd(),
			a.inspectCmd(),
			a.unpackCmd(),
			a.schemaCmd(),
			a.versionCmd(),
		},
		Flag: *flag.NewFlagSet("tftransform", flag.ContinueOnError),
	}
	cmd.Flag.StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flag.StringVar(&a.logFormat, "log-format", "text", "Log format: text or json")
	return cmd
}

// context returns a context carrying the logger configured by the global flags.
func (a *app) context() context.Context {
	return ctxlog.WithLogger(context.Background(), newLogger(a.logLevel, a.logFormat, a.stderr))
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}

// splitNames parses a comma separated list of tensor names.
func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (a *app) versionCmd() *commander.Command {
	return &commander.Command{
		Run: func(_ *commander.Command, _ []string) error {
			a.printf("tftransform %s\n", version)
			return nil
		},
		UsageLine: "version",
		Short:     "prints the version",
		Flag:      *flag.NewFlagSet("version", flag.ContinueOnError),
	}
}
