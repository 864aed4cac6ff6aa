package gateway

import (
	"net/http"

	"github.com/goccy/go-json"
)

// ErrorBody is the JSON body of errors produced by the proxy itself. Errors
// of the backing engine are relayed in the engine's own format.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

// WriteError writes an error response with an ErrorBody
func WriteError(w http.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(ErrorBody{
		StatusCode: status,
		Message:    message,
		Error:      http.StatusText(status),
	})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(body)
}
