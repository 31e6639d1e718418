package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"specan/pkg/instrument"
	"specan/pkg/manager"
	"specan/pkg/registry"
	"specan/pkg/scpi"
	"specan/pkg/store"
)

// Error numbers reported in the response envelope.
const (
	errNotImplemented   = 0x400
	errInvalidValue     = 0x401
	errValueNotSet      = 0x402
	errNotConnected     = 0x407
	errInvalidOperation = 0x40B
	errDriver           = 0x500
)

var errBadRequest = errors.New("bad request")

type baseResponse struct {
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// errorNumber maps a driver error to its envelope error number.
func errorNumber(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, manager.ErrUnknownMode), errors.Is(err, registry.ErrUnknownSetting):
		return errInvalidValue
	case errors.Is(err, store.ErrPresetNotFound):
		return errValueNotSet
	case errors.Is(err, instrument.ErrNotConnected), errors.Is(err, scpi.ErrNotConnected):
		return errNotConnected
	case errors.Is(err, instrument.ErrAlreadyConnected), errors.Is(err, instrument.ErrPresetDevice):
		return errInvalidOperation
	case errors.Is(err, instrument.ErrNoPresetStore):
		return errNotImplemented
	default:
		return errDriver
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, value any) {
	response := baseResponse{
		ServerTransactionID: int(s.txCounter.Add(1)),
		Value:               value,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	response := baseResponse{
		ServerTransactionID: int(s.txCounter.Add(1)),
		ErrorNumber:         errorNumber(err),
		ErrorMessage:        err.Error(),
	}
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, errBadRequest) {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(response)
}

// handle adapts fn to an http.Handler that wraps its result in the response
// envelope.
func (s *Server) handle(fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, err := fn(r)
		if err != nil {
			s.logger.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
			s.writeError(w, err)
			return
		}
		s.writeResponse(w, value)
	})
}
