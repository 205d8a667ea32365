package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeNotEnrolled, "no branch")
		assert.True(t, HasCode(err, CodeNotEnrolled))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches code through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("engine: %w", New(CodeCorruptRecord, "bad json"))
		assert.True(t, HasCode(err, CodeCorruptRecord))
	})

	t.Run("matches inner code of nested domain errors", func(t *testing.T) {
		inner := New(CodeTimeout, "deadline")
		err := Wrap(inner, CodeFetchFailed, "fetch catalog")
		assert.True(t, HasCode(err, CodeFetchFailed))
		assert.True(t, HasCode(err, CodeTimeout))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodePersistFailed, CodeOf(Wrap(errors.New("disk"), CodePersistFailed, "save")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "not_enrolled: no branch", New(CodeNotEnrolled, "no branch").Error())
	assert.Equal(t, "fetch_failed: fetch: dial", Wrap(errors.New("dial"), CodeFetchFailed, "fetch").Error())
}
