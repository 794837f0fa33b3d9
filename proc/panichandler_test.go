package proc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverToErrReturnsFunctionError(t *testing.T) {
	want := errors.New("boom")
	err := recoverToErr("test", func() error { return want })
	assert.Equal(t, want, err)
}

func TestRecoverToErrCatchesPanicWithErrorValue(t *testing.T) {
	cause := errors.New("stdout drain exploded")
	err := recoverToErr("stdout drain", func() error {
		panic(cause)
	})
	require.Error(t, err)
	var rt *RuntimeError
	require.ErrorAs(t, err, &rt)
	assert.ErrorIs(t, err, cause)
}

func TestRecoverToErrCatchesPanicWithNonErrorValue(t *testing.T) {
	err := recoverToErr("input pump", func() error {
		panic("unexpected nil dereference")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected nil dereference")
}

func TestFromPanicValuePassesThroughExistingError(t *testing.T) {
	cause := errors.New("already an error")
	assert.Equal(t, cause, fromPanicValue(cause))
}
