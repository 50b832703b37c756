package server

import (
	"errors"
	"net/http"

	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/transfer"
)

// statusCode maps an error returned from transfer.Manager to a HTTP status code.
func statusCode(err error) int {
	var (
		ide *engine.InvalidDescriptorError
		ue  *engine.UnavailableError
		ae  *transfer.ArchiveError
	)
	switch {
	case transfer.IsInputError(err), errors.As(err, &ide), errors.As(err, &ae):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrTransferNotFound),
		errors.Is(err, transfer.ErrSessionNotStarted),
		errors.Is(err, transfer.ErrSessionRemoved):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// message is the response body for err.
func message(err error) string {
	switch {
	case errors.Is(err, transfer.ErrIndexOutOfRange):
		return "Invalid index"
	case errors.Is(err, transfer.ErrInvalidFileIndex):
		return "Invalid file index"
	case errors.Is(err, transfer.ErrTransferNotFound), errors.Is(err, transfer.ErrSessionRemoved):
		return "Transfer not found"
	case errors.Is(err, transfer.ErrSessionNotStarted):
		return "Transfer not started"
	default:
		return err.Error()
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %s", r.Method, r.URL.Path, err)
	} else {
		s.log.Debugf("%s %s: %s", r.Method, r.URL.Path, err)
	}
	http.Error(w, message(err), code)
}
