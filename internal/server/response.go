package server

import (
	"encoding/json"
	"net/http"

	"github.com/forgerelay/relay/internal/relayerr"
)

// Envelope is the REST response shape: exactly one of Data or Error is
// non-null.
type Envelope struct {
	Data  any        `json:"data"`
	Error *ErrorBody `json:"error"`
}

// ErrorBody is the error half of an Envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	kind := relayerr.KindOf(err)
	status, code := httpStatusForKind(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: &ErrorBody{Code: code, Message: err.Error()}})
}

func httpStatusForKind(kind relayerr.Kind) (int, string) {
	switch kind {
	case relayerr.KindValidation:
		return http.StatusBadRequest, string(kind)
	case relayerr.KindNotFound:
		return http.StatusNotFound, string(kind)
	case relayerr.KindConflict:
		return http.StatusConflict, string(kind)
	case relayerr.KindProviderUnavailable:
		return http.StatusServiceUnavailable, string(kind)
	case relayerr.KindSandboxFailure:
		return http.StatusInternalServerError, string(kind)
	case relayerr.KindTransport:
		return http.StatusBadGateway, string(kind)
	case relayerr.KindCrypto:
		return http.StatusInternalServerError, string(kind)
	case relayerr.KindLag:
		return http.StatusConflict, string(kind)
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
