package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrNotFound.WrapMsg("friend link", "id", "l1")
	require.Error(t, err)

	assert.True(t, ErrNotFound.Is(err))
	assert.False(t, ErrForbidden.Is(err))
	assert.True(t, errors.Is(err, ErrNotFound))

	ce := Code(err)
	require.NotNil(t, ce)
	assert.Equal(t, RecordNotFoundError, ce.Code)
	assert.Equal(t, "friend link, id=l1", ce.Detail)
	// 模板本身不被修改
	assert.Empty(t, ErrNotFound.Detail)
}

func TestCodeRelation(t *testing.T) {
	err := ErrInvalidOperation.WrapMsg("self request")
	assert.True(t, ErrInvalidArgument.Is(err), "invalid operation is a kind of invalid argument")
	assert.True(t, ErrInvalidOperation.Is(err))
	assert.False(t, ErrInvalidOperation.Is(ErrInvalidArgument.Wrap()))
}

func TestPersistence(t *testing.T) {
	assert.NoError(t, Persistence(nil, "x"))

	timeout := Persistence(fmt.Errorf("find: %w", context.DeadlineExceeded), "find room")
	assert.True(t, ErrTimeout.Is(timeout))

	other := Persistence(errors.New("connection refused"), "find room")
	assert.True(t, ErrPersistence.Is(other))

	coded := ErrForbidden.WrapMsg("not a member")
	assert.Same(t, coded, Persistence(coded, "ignored"))
}

func TestWithDetail(t *testing.T) {
	e := ErrConflict.WithDetail("a").WithDetail("b")
	assert.Equal(t, "a, b", e.Detail)
	assert.Equal(t, "1006 Conflict a, b", e.Error())
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("boom")
	assert.True(t, ErrInternal.Is(err))
	assert.Equal(t, "boom", Code(err).Detail)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]error{
		400: ErrInvalidOperation.WrapMsg("self"),
		403: ErrForbidden.Wrap(),
		404: fmt.Errorf("outer: %w", ErrNotFound.WrapMsg("x")),
		409: ErrInvalidState.Wrap(),
		401: ErrTokenExpired.Wrap(),
		504: Persistence(context.DeadlineExceeded, "q"),
		500: Persistence(errors.New("conn refused"), "q"),
	}
	for want, err := range cases {
		assert.Equal(t, want, HTTPStatus(err), "%v", err)
	}
	assert.Equal(t, 409, HTTPStatus(ErrConflict.Wrap()))
	assert.Equal(t, 500, HTTPStatus(errors.New("plain")))
}
