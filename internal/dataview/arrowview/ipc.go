package arrowview

import (
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/born-ml/tftransform/internal/errs"
)

// ReadFile reads every record batch of an Arrow IPC file into a View.
// Call Release on the View when done.
func ReadFile(path string, mem memory.Allocator) (*View, error) {
	//nolint:gosec // G304: path is a user supplied data file
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "read arrow file", path, err)
	}
	defer func() { _ = f.Close() }()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(mem))
	if err != nil {
		return nil, errs.Wrap(errs.ErrDecode, "read arrow file", path, err)
	}
	defer r.Close()

	records := make([]arrow.Record, 0, r.NumRecords())
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.RecordAt(i)
		if err != nil {
			return nil, errs.Wrap(errs.ErrDecode, "read arrow file", path, err)
		}
		records = append(records, rec)
	}
	return New(r.Schema(), records...)
}

// WriteFile writes records to an Arrow IPC file at path.
func WriteFile(path string, schema *arrow.Schema, mem memory.Allocator, records ...arrow.Record) (err error) {
	//nolint:gosec // G304: path is a user supplied data file
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "write arrow file", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errs.Wrap(errs.ErrIO, "write arrow file", path, cerr)
		}
	}()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return errs.Wrap(errs.ErrIO, "write arrow file", path, err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return errs.Wrap(errs.ErrIO, "write arrow file", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return errs.Wrap(errs.ErrIO, "write arrow file", path, err)
	}
	return nil
}
