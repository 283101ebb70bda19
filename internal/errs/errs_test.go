package errs

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsKind(t *testing.T) {
	err := New(ErrShapeMismatch, "bind", "pixels", "%d not divisible by %d", 10, 3)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.NotErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, `bind: shape mismatch ("pixels"): 10 not divisible by 3`, err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(ErrIO, "replace variables", "variables.index", fs.ErrPermission)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrPermission)

	var e *Error
	assert.True(t, errors.As(error(err), &e))
	assert.Equal(t, "variables.index", e.Name)
}
