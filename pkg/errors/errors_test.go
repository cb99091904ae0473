package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	err := Wrap(stdErrors.New("boom"), "failed")
	require.Equal(t, "failed: boom", err.Error())
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", http.StatusBadRequest)
	with := base.WithInternal(stdErrors.New("oops"))

	require.NotSame(t, base, with)
	require.Nil(t, base.Internal)
	require.NotNil(t, with.Internal)
}

func TestFromError(t *testing.T) {
	require.Same(t, ErrNotFound, FromError(ErrNotFound))

	out := FromError(stdErrors.New("raw"))
	require.Equal(t, ErrInternalServer.Code, out.Code)
	require.NotNil(t, out.Internal)

	wrapped := fmt.Errorf("service: %w", ErrForbidden)
	require.Equal(t, ErrForbidden.Code, FromError(wrapped).Code)
}

func TestConstructorsKeepCodes(t *testing.T) {
	bad := NewBadRequest("invalid payload")
	require.Equal(t, ErrBadRequest.Code, bad.Code)
	require.Equal(t, "invalid payload", bad.Message)
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)

	missing := NewNotFound("certificate not found")
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
	require.True(t, stdErrors.Is(missing, ErrNotFound))
	require.False(t, stdErrors.Is(missing, ErrForbidden))

	forbidden := NewForbidden("institution role required")
	require.True(t, stdErrors.Is(forbidden, ErrForbidden))
	require.Equal(t, "Permission denied", ErrForbidden.Message)
}
