package utils // package utils provides helpers for minting access tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// Claims describes the caller an access token is minted for.  Only UserID
// is required; an empty Role is read as resident by JWTAuth.
type Claims struct {
	UserID string
	Role   string
	Email  string
	Name   string
}

// NewAccessToken builds and signs an HS256 JWT carrying the identity claims
// JWTAuth reads: sub, role, email and name, plus exp and iat.  Tokens are
// normally issued by the identity provider; this helper serves tests and
// the devtoken command.
func NewAccessToken(secret string, who Claims, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  who.UserID,
		"role": who.Role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	if who.Email != "" {
		claims["email"] = who.Email
	}
	if who.Name != "" {
		claims["name"] = who.Name
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
