package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := newError(KindClientInvalid, nil, "client %q is %s", "app2", "locked")

	require.ErrorIs(t, err, ErrClientInvalid)
	require.NotErrorIs(t, err, ErrClientNotFound)
	require.Equal(t, `client_invalid: client "app2" is locked`, err.Error())

	wrapped := fmt.Errorf("generate: %w", err)
	require.ErrorIs(t, wrapped, ErrClientInvalid)
	require.Equal(t, KindClientInvalid, KindOf(wrapped))
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := newError(KindIssuanceFailed, cause, "storing refresh token failed")

	require.ErrorIs(t, err, cause)
	require.Equal(t, "issuance_failed: storing refresh token failed: disk on fire", err.Error())

	collision := newError(KindTokenCollision, nil, "again")
	outer := newError(KindIssuanceFailed, collision, "collided twice")
	require.ErrorIs(t, outer, ErrIssuanceFailed)
	require.ErrorIs(t, outer, ErrTokenCollision)
	require.Equal(t, KindIssuanceFailed, KindOf(outer))
}

func TestKindOfUnclassified(t *testing.T) {
	require.Equal(t, KindIssuanceFailed, KindOf(errors.New("boom")))
}

func TestResponseFor(t *testing.T) {
	resp := ResponseFor(newError(KindClientNotFound, errors.New("sql: no rows"), "client %q not found", "x"))
	require.Equal(t, ErrorResponse{Error: "client_not_found", Description: `client "x" not found`}, resp)

	resp = ResponseFor(errors.New("secret internals"))
	require.Equal(t, "issuance_failed", resp.Error)
	require.NotContains(t, resp.Description, "secret")
}
