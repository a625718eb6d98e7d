package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("provider not found")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("book: %w", Conflict("slot taken"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.True(t, Is(Field("date", "format"), KindValidation))
	assert.False(t, Is(nil, KindInternal))
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("list providers", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFieldDetails(t *testing.T) {
	err := Field("start_time", "grid")
	assert.Equal(t, []FieldError{{Field: "start_time", Rule: "grid"}}, err.Details)
}
