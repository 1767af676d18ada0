package apperror

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("failed to load group: %w", Store(sql.ErrConnDone))
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, ErrStore, Kind(err))

	notOwner := New(ErrForbidden, "only the owner can remove members")
	assert.Equal(t, "only the owner can remove members", notOwner.Error())
	assert.Equal(t, ErrForbidden, Kind(notOwner))

	assert.Nil(t, Kind(errors.New("plain")))
	assert.Nil(t, Store(nil))
}

func TestPartialFailure(t *testing.T) {
	assert.Nil(t, NewPartialFailure(nil, nil))

	logErr := errors.New("log insert failed")
	pf := NewPartialFailure([]int64{9, 3}, []error{logErr})

	assert.Equal(t, []int64{3, 9}, pf.FailedRecipients)
	assert.ErrorIs(t, pf, ErrPartialFailure)
	assert.ErrorIs(t, pf, logErr)
	assert.Contains(t, pf.Error(), "3,9")

	var target *PartialFailure
	wrapped := fmt.Errorf("fanout: %w", pf)
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrPartialFailure, Kind(wrapped))
}
