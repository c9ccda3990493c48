// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package auth verifies the signed session tokens issued by the account
// service. The relay never mints tokens and never consults the database
// here; possession of a validly signed, unexpired token is the whole check.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token failure: bad signature,
// expiry, malformed input or missing identity claims.
var ErrUnauthorized = errors.New("auth: unauthorized")

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Identity is the verified subject of a session token.
type Identity struct {
	UserID string
	Email  string
}

// TokenVerifier validates session tokens against a symmetric secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier returns a verifier for the given secret. The caller is
// responsible for refusing to start with an empty secret.
func NewTokenVerifier(secret []byte) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth: empty signing secret")
	}
	return &TokenVerifier{secret: secret}, nil
}

// Verify checks the signature, expiry and required claims of a token and
// returns the identity it asserts. Any failure maps to ErrUnauthorized;
// callers must not leak the distinction to clients.
func (v *TokenVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	// A signature can verify and still carry no identity; reject those
	// outright rather than admitting an anonymous connection.
	if claims.UserID == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: missing identity claims", ErrUnauthorized)
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
