package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the operator a token was issued to.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 bearer tokens for the admin API.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer returns a TokenIssuer using secret to sign and validate
// tokens, each valid for expiry from issuance.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// IssueToken mints a bearer token for operator.
func (ti *TokenIssuer) IssueToken(operator string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fixengine-admin",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

func (ti *TokenIssuer) validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// RequireAuth wraps a handler so it runs only when the request carries a
// valid "Authorization: Bearer <token>" header.
func (ti *TokenIssuer) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := ti.validate(tokenString); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
