package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Horgix/incidents-automation-app/internal/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth struct {
	subject string
	err     error
}

func (a staticAuth) Authenticate(_ *http.Request) (string, error) {
	return a.subject, a.err
}

func TestAuthMiddleware(t *testing.T) {
	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = GetSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("accepted", func(t *testing.T) {
		rec := httptest.NewRecorder()
		AuthMiddleware(staticAuth{subject: "apiai"})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "apiai", gotSubject)
	})

	t.Run("rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		AuthMiddleware(staticAuth{err: errors.New("bad password")})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":{"message":"unauthorized"}}`, rec.Body.String())
	})

	t.Run("disabled", func(t *testing.T) {
		gotSubject = "unset"
		rec := httptest.NewRecorder()
		AuthMiddleware(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, gotSubject)
	})
}

func TestHandleError(t *testing.T) {
	errKnown := errors.New("known")
	mappings := []ErrorMapping{
		{Error: errKnown, Status: http.StatusConflict, Message: "conflict"},
	}

	rec := httptest.NewRecorder()
	HandleError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rec, fmt.Errorf("wrapped: %w", errKnown), mappings)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"conflict"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HandleError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rec, errors.New("boom"), mappings)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestValidationError(t *testing.T) {
	type request struct {
		Intent string `validate:"required"`
	}
	err := validator.New().Struct(request{})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Message string              `json:"message"`
			Details []map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation error", body.Error.Message)
	require.Len(t, body.Error.Details, 1)
	assert.Equal(t, "Intent", body.Error.Details[0]["field"])
	assert.Equal(t, "required", body.Error.Details[0]["message"])
}

func TestRequestLoggerMiddleware_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLoggerMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhook", nil))

	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=502")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr error
		want    string
	}{
		{name: "valid", body: `{"name":"incident"}`, want: "incident"},
		{name: "malformed", body: `{"name":`, wantErr: ErrMalformedBody},
		{name: "empty", body: ``, wantErr: ErrMalformedBody},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", 64) + `"}`, wantErr: ErrBodyTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), req, 32, &got)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestHandleError_BodyErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(context.Background(), rec, fmt.Errorf("%w: limit is 32 bytes", ErrBodyTooLarge), BodyErrorMappings)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"request body too large"}}`, rec.Body.String())
}

func TestMetricsMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		Text(w, http.StatusOK, "OK")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin", nil))

	// One series for the route, one for everything unmatched.
	assert.Equal(t, 2, promtestutil.CollectAndCount(metrics.HTTPRequestDuration))
	assert.Equal(t, 2, promtestutil.CollectAndCount(metrics.HTTPResponseSize))
	assert.Zero(t, promtestutil.ToFloat64(metrics.HTTPRequestsInFlight))
}
