package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/meridianai/controlplane/internal/controlerr"
)

// Envelope is the response shape every endpoint shares (spec §6):
// {success, message, data}.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Respond writes a successful JSON envelope with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Data: data})
}

// RespondMessage writes a successful JSON envelope with a message and no data.
func RespondMessage(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, Envelope{Success: true, Message: message})
}

// errorDetail is included in Data only when devDetail is true.
type errorDetail struct {
	Kind   controlerr.Kind   `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// WriteError is the single place a controlerr.Kind maps to an HTTP status
// (spec §7). devDetail gates whether the structured kind/fields are
// included in the response body; production deployments only ever see the
// message.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, devDetail bool) {
	kind := controlerr.KindOf(err)
	status := statusForKind(kind)

	message := publicMessage(err, kind)

	env := Envelope{Success: false, Message: message}
	if devDetail {
		detail := errorDetail{Kind: kind}
		var ce *controlerr.Error
		if e, ok := err.(*controlerr.Error); ok {
			ce = e
			detail.Fields = ce.Fields
		}
		env.Data = detail
	}

	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("internal error", "error", err, "kind", kind)
	}

	writeEnvelope(w, status, env)
}

// publicMessage returns the message safe to show a client. Unauthorized
// never leaks detail beyond a fixed phrase (spec §7 anti-enumeration).
func publicMessage(err error, kind controlerr.Kind) string {
	if kind == controlerr.Unauthorized {
		return "authentication required"
	}
	if kind == controlerr.InternalError {
		return "an internal error occurred"
	}
	if ce, ok := err.(*controlerr.Error); ok && ce.Message != "" {
		return ce.Message
	}
	return err.Error()
}

func statusForKind(kind controlerr.Kind) int {
	switch kind {
	case controlerr.ValidationError:
		return http.StatusBadRequest
	case controlerr.Unauthorized:
		return http.StatusUnauthorized
	case controlerr.Forbidden:
		return http.StatusForbidden
	case controlerr.NotFound:
		return http.StatusNotFound
	case controlerr.Conflict:
		return http.StatusConflict
	case controlerr.QuotaExceeded, controlerr.RateLimited:
		return http.StatusTooManyRequests
	case controlerr.ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
