package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Horgix/incidents-automation-app/internal/pkg/ctxlog"
)

// Request body errors returned by DecodeJSON.
var (
	ErrMalformedBody = errors.New("invalid request body")
	ErrBodyTooLarge  = errors.New("request body too large")
)

// ErrorMapping defines how an error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// BodyErrorMappings answers DecodeJSON failures.
var BodyErrorMappings = []ErrorMapping{
	{Error: ErrBodyTooLarge, Status: http.StatusRequestEntityTooLarge, Message: "request body too large"},
	{Error: ErrMalformedBody, Status: http.StatusBadRequest, Message: "invalid request body"},
}

// DecodeJSON decodes a JSON body of at most limit bytes into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(dst)

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}

// HandleError answers err with the first matching mapping. Mapped errors are
// the caller's fault and logged as warnings; anything else is logged as an
// error and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	logger := ctxlog.FromContext(ctx)
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			logger.Warn("request rejected", "status", m.Status, "error", err)
			Error(w, m.Status, msg)
			return
		}
	}
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
