package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqzone/server/internal/apperror"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestFromError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperror.Invalid("title is required"), http.StatusBadRequest, "BAD_REQUEST"},
		{fmt.Errorf("x: %w", apperror.ErrInvalidCoordinate), http.StatusBadRequest, "INVALID_COORDINATE"},
		{apperror.New(apperror.ErrForbidden, "only the owner"), http.StatusForbidden, "FORBIDDEN"},
		{apperror.New(apperror.ErrInvalidOperation, "owner cannot remove itself"), http.StatusConflict, "CONFLICT"},
		{apperror.New(apperror.ErrNotFound, "group not found"), http.StatusNotFound, "NOT_FOUND"},
		{apperror.Store(errors.New("pq: connection refused")), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		FromError(rec, tc.err, "Failed")

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		body := decode(t, rec)
		assert.False(t, body.Success)
		assert.Equal(t, tc.code, body.Error.Code)
	}

	rec := httptest.NewRecorder()
	FromError(rec, apperror.Store(errors.New("pq: secret detail")), "Failed to send alert")
	assert.Equal(t, "Failed to send alert", decode(t, rec).Error.Message)
}

func TestPartial(t *testing.T) {
	rec := httptest.NewRecorder()
	Partial(rec, http.StatusCreated, map[string]int{"delivered_count": 3}, apperror.NewPartialFailure([]int64{4}, nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "PARTIAL_FAILURE", body.Error.Code)

	rec = httptest.NewRecorder()
	Partial(rec, http.StatusCreated, map[string]int{"delivered_count": 3}, nil)
	assert.Nil(t, decode(t, rec).Error)
}

func TestNewMeta(t *testing.T) {
	assert.Equal(t, &Meta{Page: 2, PerPage: 20, Total: 41, TotalPages: 3}, NewMeta(2, 20, 41))
}
