package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(Forbidden, "not an admin"))

	assert.Equal(t, Forbidden, KindOf(err))
	assert.True(t, Is(err, Forbidden))
	assert.False(t, Is(err, InvalidSignature))
	assert.Equal(t, "not an admin", Message(err))

	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", Message(errors.New("boom")))
	assert.False(t, Is(nil, Internal))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Internal, "database error", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "database error: connection refused", err.Error())
}

func TestStatus(t *testing.T) {
	cases := map[Kind]int{
		NotFound:         http.StatusNotFound,
		Forbidden:        http.StatusForbidden,
		InvalidSignature: http.StatusBadRequest,
		InvalidInput:     http.StatusBadRequest,
		Expired:          http.StatusGone,
		AttemptsExceeded: http.StatusTooManyRequests,
		RateLimited:      http.StatusTooManyRequests,
		DeliveryFailed:   http.StatusInternalServerError,
		Internal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, Status(kind), string(kind))
	}
}
