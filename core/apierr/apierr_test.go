package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, NoRights, CodeOf(New(NoRights, "denied")))
	assert.Equal(t, NoRights, CodeOf(fmt.Errorf("outer: %w", New(NoRights, "denied"))))
	assert.Equal(t, Internal, CodeOf(errors.New("boom")))
}

func TestWrap_HidesCause(t *testing.T) {
	cause := errors.New("connection refused to 10.0.0.3:27017")
	err := Wrap(cause, "find")

	require.Error(t, err)
	assert.Equal(t, Internal, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal error", ClientMessage(err))
	assert.Contains(t, err.Error(), "10.0.0.3")
}

func TestWrap_PassesTaxonomyErrors(t *testing.T) {
	orig := New(HasRef, "referenced by order.product")
	assert.Same(t, orig, Wrap(orig, "delete"))
	assert.Nil(t, Wrap(nil, "noop"))
}

func TestRespond(t *testing.T) {
	env := Respond(map[string]any{"a": 1}, nil)
	assert.Equal(t, OK, env.Code)
	assert.Empty(t, env.Err)

	env = Respond(map[string]any{"a": 1}, Wrap(errors.New("disk full"), "insert"))
	assert.Equal(t, Internal, env.Code)
	assert.Nil(t, env.Data)
	assert.Equal(t, "internal error", env.Err)

	env = RespondList([]int{1, 2}, 25, nil)
	require.NotNil(t, env.Total)
	assert.Equal(t, int64(25), *env.Total)
}
