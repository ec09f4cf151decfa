package http

import (
	"encoding/json"
	"net/http"

	"github.com/artpar/entitygate/core/apierr"
)

var errNoRoute = apierr.New(apierr.NotFound, "no such route")

// StatusFor maps a result code to an HTTP status.
func StatusFor(code apierr.Code) int {
	switch code {
	case apierr.OK:
		return http.StatusOK
	case apierr.NoSession:
		return http.StatusUnauthorized
	case apierr.NoRights:
		return http.StatusForbidden
	case apierr.NoParams, apierr.InvalidParams:
		return http.StatusBadRequest
	case apierr.NotFound, apierr.RefNotFound:
		return http.StatusNotFound
	case apierr.DuplicateValue, apierr.HasRef, apierr.RefNotUnique:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorEnvelope(err error) apierr.Envelope {
	return apierr.Respond(nil, err)
}

// respond writes the envelope for an operation result. okStatus is used on
// success.
func respond(w http.ResponseWriter, okStatus int, data any, err error) {
	env := apierr.Respond(data, err)
	status := okStatus
	if err != nil {
		status = StatusFor(env.Code)
	}
	writeEnvelope(w, status, env)
}

func respondList(w http.ResponseWriter, data any, total int64, err error) {
	env := apierr.RespondList(data, total, err)
	writeEnvelope(w, StatusFor(env.Code), env)
}

func writeEnvelope(w http.ResponseWriter, status int, env apierr.Envelope) {
	writeJSON(w, status, env)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
