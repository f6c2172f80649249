package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridianai/controlplane/internal/controlerr"
)

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		kind controlerr.Kind
		want int
	}{
		{controlerr.ValidationError, http.StatusBadRequest},
		{controlerr.Unauthorized, http.StatusUnauthorized},
		{controlerr.Forbidden, http.StatusForbidden},
		{controlerr.NotFound, http.StatusNotFound},
		{controlerr.Conflict, http.StatusConflict},
		{controlerr.QuotaExceeded, http.StatusTooManyRequests},
		{controlerr.RateLimited, http.StatusTooManyRequests},
		{controlerr.ServiceUnavailable, http.StatusServiceUnavailable},
		{controlerr.InternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, nil, controlerr.New(tt.kind, "boom"), false)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}

			var env Envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if env.Success {
				t.Errorf("Success = true, want false")
			}
			if env.Data != nil {
				t.Errorf("Data = %v, want nil when devDetail is false", env.Data)
			}
		})
	}
}

func TestWriteError_UnauthorizedNeverLeaksDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, controlerr.New(controlerr.Unauthorized, "session abc123 expired at 2026-01-01"), true)

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if env.Message != "authentication required" {
		t.Errorf("message = %q, want fixed phrase", env.Message)
	}
}

func TestWriteError_DevDetailIncludesFields(t *testing.T) {
	w := httptest.NewRecorder()
	err := controlerr.New(controlerr.Forbidden, "missing permission").WithField("permission", "cache.clear")
	WriteError(w, nil, err, true)

	var env Envelope
	if decErr := json.Unmarshal(w.Body.Bytes(), &env); decErr != nil {
		t.Fatalf("decoding body: %v", decErr)
	}
	if env.Data == nil {
		t.Fatalf("Data = nil, want detail when devDetail is true")
	}
}
