package api

import (
	"errors"
	"net/http"

	"github.com/Artfain/verity/core"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{core.ErrConflict, http.StatusConflict, "conflict"},
	{core.ErrNotFound, http.StatusNotFound, "not_found"},
	{core.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{core.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{core.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{core.ErrPersistence, http.StatusInternalServerError, "persistence"},
}

// statusFor maps a core error to its HTTP status and kind.
func statusFor(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}
