// Package modelio moves models between disk and the binary container.
//
// A frozen model is stored as one graph definition entry. A saved model is
// stored as its graph definition and variable files, by relative path, and
// is extracted into a fresh temporary directory on load.
package modelio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/tftransform/internal/ctxlog"
	"github.com/born-ml/tftransform/internal/engine"
	"github.com/born-ml/tftransform/internal/errs"
	"github.com/born-ml/tftransform/internal/fsutil"
	"github.com/born-ml/tftransform/internal/serialization"
)

// Model is a model together with its bound input and output names.
type Model struct {
	Frozen bool
	// GraphDef is the frozen graph definition.
	GraphDef []byte
	// Dir is the saved-model directory.
	Dir     string
	Inputs  []string
	Outputs []string
}

// Payloads returns the container entries of m.
func (m *Model) Payloads() ([]serialization.Payload, error) {
	if m.Frozen {
		return []serialization.Payload{serialization.BytesPayload(serialization.GraphEntry, m.GraphDef)}, nil
	}
	var payloads []serialization.Payload
	for _, rel := range engine.SavedModelFiles() {
		p, err := serialization.FilePayload(rel, filepath.Join(m.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, errs.Wrap(errs.ErrIO, "save model", rel, err)
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// Save writes m to w as a container of the current format version.
func Save(w io.Writer, m *Model) error {
	payloads, err := m.Payloads()
	if err != nil {
		return err
	}
	h := serialization.Header{Frozen: m.Frozen, Inputs: m.Inputs, Outputs: m.Outputs}
	if err := serialization.Write(w, h, payloads, serialization.WriterOptions{}); err != nil {
		if errors.Is(err, errs.ErrIO) {
			return err
		}
		return errs.Wrap(errs.ErrIO, "save model", "", err)
	}
	return nil
}

// SaveFile writes m to the container file at path.
func SaveFile(path string, m *Model) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "save model", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errs.Wrap(errs.ErrIO, "save model", path, cerr)
		}
	}()
	return Save(f, m)
}

// Loaded is a model read back from a container.
type Loaded struct {
	Model
	// Temp reports that Dir is a temporary extraction owned by the caller.
	Temp bool
}

// Load restores the model held by r. A saved model is extracted into a new
// temporary directory; on failure the directory is removed again.
func Load(ctx context.Context, r *serialization.Reader, folders fsutil.Folders) (*Loaded, error) {
	h := r.Header()
	out := &Loaded{Model: Model{Frozen: h.Frozen, Inputs: h.Inputs, Outputs: h.Outputs}}

	if h.Frozen {
		def, err := r.ReadEntry(serialization.GraphEntry)
		if err != nil {
			return nil, errs.Wrap(errs.ErrDecode, "load model", serialization.GraphEntry, err)
		}
		out.GraphDef = def
		return out, nil
	}

	for _, rel := range engine.SavedModelFiles() {
		if _, ok := h.Entry(rel); !ok {
			return nil, errs.New(errs.ErrDecode, "load model", rel, "saved model container lacks a required file")
		}
	}

	dir, err := os.MkdirTemp("", "tftransform-")
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "load model", "", err)
	}
	if err := extract(r, dir, folders); err != nil {
		if derr := folders.DeleteFolder(ctx, dir); derr != nil {
			ctxlog.FromContext(ctx).Warn("Failed to delete partial extraction.", "path", dir, "error", derr)
		}
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Extracted saved model.", "path", dir, "files", len(h.Entries))
	out.Dir, out.Temp = dir, true
	return out, nil
}

// LoadFile restores the model stored in the container file at path.
func LoadFile(ctx context.Context, path string, folders fsutil.Folders) (*Loaded, error) {
	r, err := serialization.OpenFile(path, serialization.ReaderOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return Load(ctx, r, folders)
}

func extract(r *serialization.Reader, dir string, folders fsutil.Folders) error {
	for _, e := range r.Header().Entries {
		dst := filepath.Join(dir, filepath.FromSlash(e.Path))
		if err := folders.CreateFolder(filepath.Dir(dst)); err != nil {
			return errs.Wrap(errs.ErrIO, "extract model", e.Path, err)
		}
		src, err := r.Open(e.Path)
		if err != nil {
			return errs.Wrap(errs.ErrDecode, "extract model", e.Path, err)
		}
		if err := writeFile(dst, src); err != nil {
			return errs.Wrap(errs.ErrIO, "extract model", e.Path, err)
		}
	}
	return nil
}

func writeFile(path string, src io.Reader) (err error) {
	//nolint:gosec // G304: path is inside a directory this package created
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
