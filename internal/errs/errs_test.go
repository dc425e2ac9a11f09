package errs_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"chatrelay-backend/internal/errs"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{errs.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{errs.ErrForbidden, http.StatusForbidden, "forbidden"},
		{errs.ErrNotFound, http.StatusNotFound, "not_found"},
		{errs.ErrConflict, http.StatusConflict, "conflict"},
		{errs.ErrTransient, http.StatusServiceUnavailable, "transient"},
		{errs.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{errs.ErrInvalid, http.StatusBadRequest, "invalid"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			wrapped := fmt.Errorf("doing something: %w", tc.err)
			assert.Equal(t, tc.want, errs.HTTPStatus(wrapped))
			assert.Equal(t, tc.code, errs.Code(wrapped))
		})
	}
}

func TestWrapKeepsKind(t *testing.T) {
	err := errs.Wrap(errs.ErrForbidden, "user %d can't view channel %d", 1, 2)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.Equal(t, "forbidden: user 1 can't view channel 2", err.Error())
	assert.True(t, errs.Public(err))
}

func TestStorageClassification(t *testing.T) {
	assert.Nil(t, errs.Storage(nil))
	assert.ErrorIs(t, errs.Storage(context.DeadlineExceeded), errs.ErrTransient)
	assert.ErrorIs(t, errs.Storage(driver.ErrBadConn), errs.ErrTransient)

	plain := errors.New("syntax error")
	assert.Equal(t, plain, errs.Storage(plain))
	assert.False(t, errs.Public(plain))
}
