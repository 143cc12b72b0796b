package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Permission("no"), http.StatusForbidden},
		{NotFound("message", nil), http.StatusNotFound},
		{State("closed"), http.StatusConflict},
		{Conflict("dup"), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", Permission("no")), http.StatusForbidden},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	cause := errors.New("pq: relation missing")
	assert.Equal(t, "conversation not found", PublicMessage(NotFound("conversation", cause)))
	assert.Equal(t, "internal error", PublicMessage(cause))
	assert.ErrorIs(t, NotFound("conversation", cause), cause)
	assert.True(t, Is(Conflict("dup"), KindConflict))
}
