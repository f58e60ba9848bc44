package apperror

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromUnwrapsWrappedErrors(t *testing.T) {
	base := New(KindConflict, "OVERLAPPING_APPOINTMENT", "slot already taken")
	wrapped := fmt.Errorf("create appointment: %w", base)

	e, ok := From(wrapped)
	require.True(t, ok)
	assert.Equal(t, "OVERLAPPING_APPOINTMENT", e.Code)
	assert.Equal(t, KindConflict, e.Kind)

	assert.True(t, HasCode(wrapped, "OVERLAPPING_APPOINTMENT"))
	assert.False(t, HasCode(wrapped, "NOT_FOUND"))
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := New(KindConflict, "INVALID_TRANSITION", "bad transition")
	withExtra := base.With("from", "COMPLETED").With("to", "SCHEDULED")

	assert.Nil(t, base.Extra)
	assert.Equal(t, "COMPLETED", withExtra.Extra["from"])
	assert.Equal(t, "SCHEDULED", withExtra.Extra["to"])
	assert.Equal(t, base.Code, withExtra.Code)
}
