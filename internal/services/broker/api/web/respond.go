package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a broker error to its HTTP status and JSON body. Errors
// without a broker code become opaque 500s; their detail stays in the log.
func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()

	message := "internal error"
	if status != http.StatusInternalServerError {
		var brokerErr *apperrors.Error
		if errors.As(err, &brokerErr) {
			message = brokerErr.Message
		}
	} else if logger != nil {
		logger.Printf("web: internal error: %v", err)
	}

	writeJSON(w, status, errorBody{Error: string(code), Message: message})
}
