package errs

import (
	"errors"
	"testing"

	perrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(NewValidation("no parameter '%s'", "file")))
	assert.False(t, IsValidation(NewPrecondition("olia")))
	assert.False(t, IsValidation(errors.New("olia")))
	assert.False(t, IsValidation(nil))
}

func TestIsPrecondition(t *testing.T) {
	assert.True(t, IsPrecondition(NewPrecondition("wrong status %s", "done")))
	assert.True(t, IsPrecondition(perrors.Wrap(NewPrecondition("olia"), "ctx")))
	assert.False(t, IsPrecondition(NewValidation("olia")))
	assert.False(t, IsPrecondition(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewProvider("transcribe", true, errors.New("olia"))))
	assert.False(t, IsRetryable(NewProvider("transcribe", false, errors.New("olia"))))
	assert.True(t, IsRetryable(perrors.Wrap(NewProvider("op", true, errors.New("olia")), "ctx")))
	assert.False(t, IsRetryable(errors.New("olia")))
	assert.False(t, IsRetryable(nil))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "no parameter 'file'", NewValidation("no parameter '%s'", "file").Error())
	assert.Equal(t, "transcribe: olia", NewProvider("transcribe", true, errors.New("olia")).Error())
	assert.Equal(t, "storage: olia", NewStorage(errors.New("olia")).Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("olia")
	assert.True(t, errors.Is(NewProvider("op", false, cause), cause))
	assert.True(t, errors.Is(NewStorage(cause), cause))
}
