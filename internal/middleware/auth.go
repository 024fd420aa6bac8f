package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// RequireAuth returns a middleware that validates Bearer JWTs signed with the
// shared secret and exposes the authenticated user to downstream handlers.
// Token issuance belongs to the identity service; this API only verifies.
func RequireAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "autenticación requerida")
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "token inválido o expirado")
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "token inválido o expirado")
			}

			userID, err := userIDFromClaims(claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token inválido o expirado")
			}

			c.Set("userID", userID)
			if email, ok := claims["email"].(string); ok {
				c.Set("userEmail", email)
			}

			return next(c)
		}
	}
}

func userIDFromClaims(claims jwt.MapClaims) (uint, error) {
	switch sub := claims["sub"].(type) {
	case float64:
		return uint(sub), nil
	case string:
		id, err := strconv.ParseUint(sub, 10, 32)
		if err != nil {
			return 0, err
		}
		return uint(id), nil
	default:
		return 0, jwt.ErrTokenInvalidSubject
	}
}

// UserID reads the authenticated user id set by RequireAuth.
func UserID(c echo.Context) uint {
	if id, ok := c.Get("userID").(uint); ok {
		return id
	}
	return 0
}

// UserEmail reads the authenticated user email set by RequireAuth.
func UserEmail(c echo.Context) string {
	if email, ok := c.Get("userEmail").(string); ok {
		return email
	}
	return ""
}
