package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/pillama/bridge/internal/connection"
	"github.com/pillama/bridge/internal/correlator"
)

// writeBackendError maps a façade failure to an HTTP status:
//
//	not connected      -> 503 (nothing was sent; retry after reconnect)
//	backend error      -> 502 (the backend rejected or failed the request)
//	cancelled mid-run  -> 502 (connection lost while the request was live)
//	client went away   -> nothing; the response writer is dead
func (s *Server) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client disconnected", "path", r.URL.Path)
		return

	case errors.Is(err, connection.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "inference backend is not connected")

	case errors.Is(err, correlator.ErrBackend):
		writeError(w, http.StatusBadGateway, err.Error())

	case errors.Is(err, correlator.ErrCancelled):
		writeError(w, http.StatusBadGateway, "backend connection lost during request")

	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
