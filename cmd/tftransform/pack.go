package main

import (
	"errors"
	"os"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"

	"github.com/born-ml/tftransform/internal/ctxlog"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/modelio"
	"github.com/born-ml/tftransform/internal/serialization"
)

func (a *app) packCmd() *commander.Command {
	var model, inputs, outputs, out string
	var legacy bool
	cmd := &commander.Command{
		UsageLine: "pack <options>",
		Short:     "packs a frozen graph or saved model into a container",
		Long: `
packs a frozen graph file or a saved-model directory, together with its
input and output tensor names, into a single container file

	$ tftransform pack -model <graph.pb|dir> -inputs x -outputs probs -o model.tfxm [-legacy]

`,
		Flag: *flag.NewFlagSet("pack", flag.ContinueOnError),
	}
	cmd.Flag.StringVar(&model, "model", "", "Frozen graph file or saved-model directory")
	cmd.Flag.StringVar(&inputs, "inputs", "", "Comma separated input tensor names")
	cmd.Flag.StringVar(&outputs, "outputs", "", "Comma separated output tensor names")
	cmd.Flag.StringVar(&out, "o", "", "Output container file")
	cmd.Flag.BoolVar(&legacy, "legacy", false, "Write the version 1 format (frozen graph, single output)")
	cmd.Run = func(_ *commander.Command, _ []string) error {
		if model == "" || out == "" {
			return errs.New(errs.ErrConfig, "pack", "", "-model and -o are required")
		}
		m := &modelio.Model{Inputs: splitNames(inputs), Outputs: splitNames(outputs)}
		if len(m.Inputs) == 0 || len(m.Outputs) == 0 {
			return errs.New(errs.ErrConfig, "pack", "", "-inputs and -outputs are required")
		}

		dir, err := fsutil.IsDir(model)
		if err != nil {
			return errs.Wrap(errs.ErrConfig, "pack", model, err)
		}
		if dir {
			m.Dir = model
		} else {
			//nolint:gosec // G304: model path is a CLI argument
			def, err := os.ReadFile(model)
			if err != nil {
				return errs.Wrap(errs.ErrIO, "pack", model, err)
			}
			m.Frozen, m.GraphDef = true, def
		}

		if legacy {
			err = writeLegacy(out, m)
		} else {
			err = modelio.SaveFile(out, m)
		}
		if err != nil {
			return err
		}
		ctxlog.FromContext(a.context()).Info("Packed model.", "model", model, "frozen", m.Frozen, "container", out)
		a.printf("%s\n", out)
		return nil
	}
	return cmd
}

func writeLegacy(path string, m *modelio.Model) error {
	if !m.Frozen {
		return errs.New(errs.ErrUnsupported, "pack", path, "the version 1 format stores frozen graphs only")
	}
	payloads, err := m.Payloads()
	if err != nil {
		return err
	}
	h := serialization.Header{Frozen: true, Inputs: m.Inputs, Outputs: m.Outputs}
	err = serialization.WriteFile(path, h, payloads, serialization.WriterOptions{Version: serialization.FormatVersionV1})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, serialization.ErrUnsupportedVersion):
		return errs.Wrap(errs.ErrUnsupported, "pack", path, err)
	default:
		return errs.Wrap(errs.ErrIO, "pack", path, err)
	}
}
