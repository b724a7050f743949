package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/model"
)

// Context keys written by JWTAuth and read through CallerIdentity.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxEmail  = "email"
	ctxName   = "name"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// issued by the identity provider and injects the caller's subject, role,
// e-mail and display name into the request context.  The engine never
// authenticates on its own; everything downstream trusts these values.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header starts with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Only HMAC-signed tokens are accepted.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
			if err != nil || !tok.Valid {
				return unauthorized(c, "invalid token")
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return unauthorized(c, "invalid claims")
			}

			// The subject may arrive as a string or, from older issuers, as
			// a number.  Either way it becomes the stable user id.
			sub := claimString(claims["sub"])
			if sub == "" {
				return unauthorized(c, "token has no subject")
			}
			role := claimString(claims["role"])
			if role != model.RoleAdmin {
				role = model.RoleResident
			}

			c.Set(ctxUserID, sub)
			c.Set(ctxRole, role)
			c.Set(ctxEmail, claimString(claims["email"]))
			c.Set(ctxName, claimString(claims["name"]))
			return next(c)
		}
	}
}

func claimString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{
		"success": false,
		"error":   echo.Map{"code": "Unauthorized", "message": msg},
	})
}
