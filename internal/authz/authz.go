// Package authz supplies the current actor's permission scopes.
package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/evsync/internal/event"
)

// ErrInvalidToken is returned for a token that fails validation.
var ErrInvalidToken = errors.New("invalid or expired token")

// Static is a fixed scope list.
type Static []string

// Scopes returns a copy of s.
func (s Static) Scopes(context.Context) ([]string, error) {
	return slices.Clone([]string(s)), nil
}

// Claims are the session token claims: the standard set plus the actor's
// role, office and granted scopes.
type Claims struct {
	Role     string   `json:"role,omitempty"`
	Location string   `json:"location,omitempty"`
	Scope    []string `json:"scope"`
	jwt.RegisteredClaims
}

// Actor returns the actor the claims describe.
func (c *Claims) Actor() event.Actor {
	return event.Actor{ID: c.Subject, Role: c.Role, Location: c.Location}
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// IssueToken signs a token for actor with the given scopes.
func IssueToken(actor event.Actor, scopes []string, secret []byte, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Role:     actor.Role,
		Location: actor.Location,
		Scope:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// JWT reads scopes from a session token. The token is validated on every
// call so an expired session stops granting scopes.
type JWT struct {
	Token  string
	Secret []byte
}

// Scopes returns the token's scope claim.
func (j JWT) Scopes(context.Context) ([]string, error) {
	claims, err := ParseToken(j.Token, j.Secret)
	if err != nil {
		return nil, err
	}
	return slices.Clone(claims.Scope), nil
}

// Actor returns the actor named by the token.
func (j JWT) Actor() (event.Actor, error) {
	claims, err := ParseToken(j.Token, j.Secret)
	if err != nil {
		return event.Actor{}, err
	}
	return claims.Actor(), nil
}
