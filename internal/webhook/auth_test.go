package webhook

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newBasicAuthenticator(t *testing.T) *BasicAuthenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	auth, err := NewBasicAuthenticator("apiai", string(hash))
	require.NoError(t, err)
	return auth
}

func TestNewBasicAuthenticator_RejectsPlainPassword(t *testing.T) {
	_, err := NewBasicAuthenticator("apiai", "s3cret")
	assert.Error(t, err)
}

func TestBasicAuthenticator(t *testing.T) {
	auth := newBasicAuthenticator(t)

	tests := []struct {
		name     string
		user     string
		password string
		setAuth  bool
		wantErr  error
	}{
		{name: "valid", user: "apiai", password: "s3cret", setAuth: true},
		{name: "wrong password", user: "apiai", password: "nope", setAuth: true, wantErr: ErrInvalidCredentials},
		{name: "wrong user", user: "root", password: "s3cret", setAuth: true, wantErr: ErrInvalidCredentials},
		{name: "missing", wantErr: ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}

			subject, err := auth.Authenticate(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "apiai", subject)
		})
	}
}

func TestJWTAuthenticator(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	auth := NewJWTAuthenticator(secret, "incidents-bot")
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	valid, err := auth.IssueToken("apiai", jwt.RegisteredClaims{ExpiresAt: future})
	require.NoError(t, err)

	expired, err := auth.IssueToken("apiai", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	require.NoError(t, err)

	noExpiry, err := auth.IssueToken("apiai", jwt.RegisteredClaims{})
	require.NoError(t, err)

	otherIssuer, err := NewJWTAuthenticator(secret, "someone-else").IssueToken("apiai", jwt.RegisteredClaims{ExpiresAt: future})
	require.NoError(t, err)

	otherSecret, err := NewJWTAuthenticator("ffffffffffffffffffffffffffffffff", "incidents-bot").IssueToken("apiai", jwt.RegisteredClaims{ExpiresAt: future})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "apiai", Issuer: "incidents-bot", ExpiresAt: future,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{name: "valid", header: "Bearer " + valid},
		{name: "missing", header: "", wantErr: ErrMissingCredentials},
		{name: "not bearer", header: "Basic abc", wantErr: ErrMissingCredentials},
		{name: "expired", header: "Bearer " + expired, wantErr: ErrInvalidCredentials},
		{name: "no expiry", header: "Bearer " + noExpiry, wantErr: ErrInvalidCredentials},
		{name: "other issuer", header: "Bearer " + otherIssuer, wantErr: ErrInvalidCredentials},
		{name: "other secret", header: "Bearer " + otherSecret, wantErr: ErrInvalidCredentials},
		{name: "unsigned", header: "Bearer " + none, wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			subject, err := auth.Authenticate(req)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "apiai", subject)
		})
	}
}
