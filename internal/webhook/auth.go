package webhook

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Authentication errors.
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// BasicAuthenticator checks HTTP basic credentials against a bcrypt hash.
type BasicAuthenticator struct {
	username     string
	passwordHash []byte
}

// NewBasicAuthenticator creates a basic authenticator. passwordHash must be
// a bcrypt hash.
func NewBasicAuthenticator(username, passwordHash string) (*BasicAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("parse password hash: %w", err)
	}
	return &BasicAuthenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
	}, nil
}

// Authenticate returns the username when the credentials match.
func (a *BasicAuthenticator) Authenticate(r *http.Request) (string, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", ErrMissingCredentials
	}

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	// Always compare the password so a wrong username costs the same time.
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userMatch || passErr != nil {
		return "", ErrInvalidCredentials
	}

	return username, nil
}

// JWTAuthenticator checks HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator creates a bearer token authenticator. An empty issuer
// accepts tokens from any issuer.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Authenticate returns the token subject.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return "", ErrMissingCredentials
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	return claims.Subject, nil
}

// IssueToken signs a token for subject. Operators provision the agent's
// bearer token with it through the command line.
func (a *JWTAuthenticator) IssueToken(subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	if claims.Issuer == "" {
		claims.Issuer = a.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
