package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"

	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/serialization"
)

func (a *app) inspectCmd() *commander.Command {
	var skipChecksum bool
	cmd := &commander.Command{
		UsageLine: "inspect <options> <container>",
		Short:     "prints the header of a container",
		Long: `
prints the format version, tensor names and stored files of a container,
after validating its checksum

	$ tftransform inspect [-skip-checksum] model.tfxm

`,
		Flag: *flag.NewFlagSet("inspect", flag.ContinueOnError),
	}
	cmd.Flag.BoolVar(&skipChecksum, "skip-checksum", false, "Do not validate the payload checksum")
	cmd.Run = func(_ *commander.Command, args []string) error {
		if len(args) != 1 {
			return errs.New(errs.ErrConfig, "inspect", "", "expected one container file, got %d arguments", len(args))
		}
		r, err := serialization.OpenFile(args[0], serialization.ReaderOptions{SkipChecksumValidation: skipChecksum})
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()

		h := r.Header()
		a.printf("file:     %s\n", args[0])
		a.printf("version:  %d\n", r.Version())
		if h.Producer != "" {
			a.printf("producer: %s\n", h.Producer)
		}
		if !h.CreatedAt.IsZero() {
			a.printf("created:  %s\n", h.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		}
		a.printf("frozen:   %t\n", h.Frozen)
		a.printf("inputs:   %s\n", strings.Join(h.Inputs, ", "))
		a.printf("outputs:  %s\n", strings.Join(h.Outputs, ", "))
		a.printf("entries:\n")

		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		for _, e := range h.Entries {
			_, _ = fmt.Fprintf(tw, "  %s\t%d bytes\n", e.Path, e.Size)
		}
		return tw.Flush()
	}
	return cmd
}
