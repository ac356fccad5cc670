package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing or malformed Authorization")
	ErrRoleForbidden = errors.New("role not allowed")
)

// Manager signs and verifies the HS256 access tokens used on the websocket
// and ops endpoints.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
	parser    *jwtlib.Parser
}

// NewManager creates a token manager. A blank secret is a deployment error
// and panics at startup rather than issuing forgeable tokens.
func NewManager(secret string, accessTTL time.Duration) *Manager {
	s := strings.TrimSpace(secret)
	if s == "" {
		panic("jwt: empty secret key")
	}
	return &Manager{
		secret:    []byte(s),
		accessTTL: accessTTL,
		parser:    jwtlib.NewParser(jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()})),
	}
}

// IssueUserToken signs an access token for a passenger, driver or admin.
func (m *Manager) IssueUserToken(userID string, role Role) (string, *Claims, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("invalid role: %s", role)
	}
	claims := NewUserClaims(userID, role, m.accessTTL)
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
	return signed, claims, err
}

// ParseAndValidate verifies the signature and the registered claims.
func (m *Manager) ParseAndValidate(tokenString string) (*jwtlib.Token, *Claims, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwtlib.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !token.Valid {
		return nil, nil, errors.New("invalid token")
	}
	return token, claims, nil
}

// FromAuthorization extracts the bearer token from a request. Browsers
// cannot set headers on a websocket upgrade, so an Authorization query
// parameter is accepted as well, with or without the Bearer prefix.
func FromAuthorization(r *http.Request) (string, error) {
	if tok, ok := stripBearer(r.Header.Get("Authorization")); ok {
		return tok, nil
	}
	if param := r.URL.Query().Get("Authorization"); param != "" {
		if tok, ok := stripBearer(param); ok {
			return tok, nil
		}
		return param, nil
	}
	return "", ErrMissingToken
}

func stripBearer(v string) (string, bool) {
	tok, ok := strings.CutPrefix(v, "Bearer ")
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

// RoleAllowed asserts the claims' role is one of the allowed.
func RoleAllowed(cl *Claims, allowed ...Role) error {
	if slices.Contains(allowed, cl.Role) {
		return nil
	}
	return ErrRoleForbidden
}

type ctxKey string

const claimsCtxKey ctxKey = "jwtClaims"

// InjectClaims adds verified claims to the request context.
func InjectClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, c)
}

// FromContext extracts claims placed by InjectClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsCtxKey).(*Claims)
	return c, ok
}
