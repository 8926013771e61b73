package web

// errors.go provides unified error responses for the ops API.
//
// Every error is logged with its technical detail and the request id, then
// returned to the client as the operator message, action, and code from
// core.MapError.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/logging"
)

// errInvalidParam is wrapped for malformed query and path parameters.
var errInvalidParam = errors.New("invalid query parameter")

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its operator-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	// Server-side failures can carry store internals; only client errors
	// echo the underlying text.
	detail := msg.Message
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func invalidParam(name, value string) error {
	return fmt.Errorf("%w %s: %q", errInvalidParam, name, value)
}
