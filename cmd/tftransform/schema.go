package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/gonuts/commander"
	"github.com/gonuts/flag"

	"github.com/born-ml/tftransform/internal/dataview"
	"github.com/born-ml/tftransform/internal/dataview/arrowview"
	"github.com/born-ml/tftransform/internal/errs"
)

func (a *app) schemaCmd() *commander.Command {
	return &commander.Command{
		Run: func(_ *commander.Command, args []string) error {
			if len(args) != 1 {
				return errs.New(errs.ErrConfig, "schema", "", "expected one Arrow file, got %d arguments", len(args))
			}
			v, err := arrowview.ReadFile(args[0], memory.NewGoAllocator())
			if err != nil {
				return err
			}
			defer v.Release()

			rows, _ := v.RowCount()
			a.printf("rows: %d\n", rows)
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for i, c := range dataview.Columns(v.Schema()) {
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", i, c.Name, c.Type)
			}
			return tw.Flush()
		},
		UsageLine: "schema <arrow file>",
		Short:     "prints the column types of an Arrow IPC file",
		Long: `
prints the columns of an Arrow IPC file as the transform sees them:
fixed-size lists are vectors shaped by their "shape" field metadata

	$ tftransform schema rows.arrow

`,
		Flag: *flag.NewFlagSet("schema", flag.ContinueOnError),
	}
}
