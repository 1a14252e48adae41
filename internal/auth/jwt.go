package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity names the person marking attendance. It is established before the
// camera view is entered; the capture pipeline never works without one.
type Identity struct {
	Roll  string `json:"roll"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Valid reports whether all identity fields are filled in.
func (id Identity) Valid() bool {
	return id.Roll != "" && id.Name != "" && id.Email != ""
}

// Claims represents the JWT payload carrying the identity.
type Claims struct {
	Roll  string `json:"roll"`
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity extracts the identity embedded in the claims.
func (c Claims) Identity() Identity {
	return Identity{Roll: c.Roll, Name: c.Name, Email: c.Email}
}

// Issue signs a session token for the given identity.
func Issue(id Identity, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := Claims{
		Roll:  id.Roll,
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.Roll,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns its claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if !claims.Identity().Valid() {
		return Claims{}, errors.New("incomplete identity")
	}
	return *claims, nil
}
