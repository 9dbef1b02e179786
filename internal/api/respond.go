package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/valpere/Importexter/internal/errors"
)

const maxBodyBytes = 4 << 20

type errorBody struct {
	Error       string      `json:"error"`
	Kind        string      `json:"kind,omitempty"`
	Title       string      `json:"title,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Details     interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps the error kind to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	title, _, suggestions := errors.UserFriendly(err)
	body := errorBody{Error: err.Error(), Kind: string(kind), Title: title, Suggestions: suggestions}

	var e *errors.Error
	if errors.As(err, &e) && len(e.Context) > 0 {
		body.Details = e.Context
	}
	writeJSON(w, statusFor(kind), body)
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindConfigValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindInvalidState, errors.KindDuplicateContent, errors.KindSlugConflict:
		return http.StatusConflict
	case errors.KindNetwork, errors.KindHTTPStatus, errors.KindCatalogWrite:
		return http.StatusBadGateway
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindRequiredFieldMissing:
		return http.StatusUnprocessableEntity
	case errors.KindCanceled:
		return 499
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v. Unknown fields are rejected so typos in
// requests surface as errors.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.KindConfigValidation, err, "invalid request body")
	}
	return nil
}
