// Package auth resolves the user behind an incoming request from a signed
// bearer token. Issuing tokens and managing accounts belong to the account
// service; this package only verifies what it is handed.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken means the request carried no credentials
	ErrNoToken = errors.New("missing token")
	// ErrInvalidToken means a token was presented but did not verify
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is an authenticated user
type Identity struct {
	UserID   string
	Username string
}

// DisplayName is the name used when greeting the user
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	return i.UserID
}

// Resolver verifies HS256 tokens carrying a user_id claim
type Resolver struct {
	secret     []byte
	queryParam string
}

// NewResolver creates a resolver. An empty secret disables identification.
func NewResolver(secret, queryParam string) *Resolver {
	return &Resolver{secret: []byte(secret), queryParam: queryParam}
}

// Enabled reports whether tokens can be verified at all
func (r *Resolver) Enabled() bool {
	return len(r.secret) > 0
}

// Identify extracts the identity from the Authorization header or, since
// browsers cannot set headers on WebSocket upgrades, from the token query parameter.
func (r *Resolver) Identify(req *http.Request) (Identity, error) {
	tokenStr := bearerToken(req)
	if tokenStr == "" && r.queryParam != "" {
		tokenStr = req.URL.Query().Get(r.queryParam)
	}
	if tokenStr == "" {
		return Identity{}, ErrNoToken
	}
	return r.Verify(tokenStr)
}

// Verify parses and validates a raw token
func (r *Resolver) Verify(tokenStr string) (Identity, error) {
	if !r.Enabled() {
		return Identity{}, fmt.Errorf("%w: identification disabled", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	userID, ok := claimString(claims["user_id"])
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: user_id claim missing", ErrInvalidToken)
	}

	username, _ := claimString(claims["username"])
	return Identity{UserID: userID, Username: username}, nil
}

// Issue signs a token for the identity. Used by operator tooling and tests.
func (r *Resolver) Issue(identity Identity, claims jwt.MapClaims) (string, error) {
	if !r.Enabled() {
		return "", errors.New("cannot issue tokens without a secret")
	}
	all := jwt.MapClaims{"user_id": identity.UserID}
	if identity.Username != "" {
		all["username"] = identity.Username
	}
	for k, v := range claims {
		all[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, all).SignedString(r.secret)
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// claimString accepts string ids as well as numeric ids, which JSON decodes as float64
func claimString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}
