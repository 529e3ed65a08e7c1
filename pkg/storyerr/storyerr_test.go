package storyerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindSchema, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindRoundBlocked, http.StatusConflict},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			err := New(tc.kind, "boom")
			assert.Equal(t, tc.want, err.HTTPStatus())
			assert.Equal(t, tc.want, HTTPStatusFor(err))
		})
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindInternal, "context", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "underlying")
}

func TestIsAndKindOf(t *testing.T) {
	err := New(KindRoundBlocked, "blocked")
	assert.True(t, Is(err, KindRoundBlocked))
	assert.False(t, Is(err, KindNotFound))
	assert.Equal(t, KindRoundBlocked, KindOf(err))
}

func TestHTTPStatusForPlainErrorDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFor(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
