package main

import (
	"net/http"

	"github.com/rotisserie/eris"
)

var (
	ErrUnauthenticated = eris.New("not authenticated")
	ErrJoinQueue       = eris.New("failed to join queue")
	ErrFindMatches     = eris.New("failed to find matches")
	ErrLeaveQueue      = eris.New("failed to leave queue")
	ErrMatchNotFound   = eris.New("match not found")
	ErrNotParticipant  = eris.New("not a participant of this match")
	ErrInvalidWinner   = eris.New("winner must be a participant")
	ErrFinalize        = eris.New("failed to finalize match")
	ErrChannelClosed   = eris.New("relay channel closed")
)

// publicErrors maps sentinels to the status and message shown to callers.
// Anything else is reported as a generic internal error.
var publicErrors = []struct {
	err    error
	status int
}{
	{ErrUnauthenticated, http.StatusUnauthorized},
	{ErrNotParticipant, http.StatusForbidden},
	{ErrMatchNotFound, http.StatusNotFound},
	{ErrInvalidWinner, http.StatusBadRequest},
	{ErrJoinQueue, http.StatusInternalServerError},
	{ErrFindMatches, http.StatusInternalServerError},
	{ErrLeaveQueue, http.StatusInternalServerError},
	{ErrFinalize, http.StatusInternalServerError},
}

// httpError returns the status code and caller-facing message for err
func httpError(err error) (int, string) {
	for _, pe := range publicErrors {
		if eris.Is(err, pe.err) {
			return pe.status, pe.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}
