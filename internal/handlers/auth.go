package handlers

import (
	"errors"
	"strings"
	"time"

	xhttp "github.com/ericomondi/e-api/pkg/http"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated customer; tokens are issued by the
// storefront with the same shared secret.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware rejects requests without a valid HS256 bearer token and
// stores the caller's id on the request context.
func AuthMiddleware(secret string) xhttp.MiddlewareFunc {
	key := []byte(secret)
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			header := string(ctx.Request.Header.Peek("Authorization"))
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeError(ctx, xhttp.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := parseToken(key, tokenString)
			if err != nil {
				writeError(ctx, xhttp.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}

			ctx.SetUserValue(xhttp.UserIDKey, claims.UserID)
			next(ctx)
		}
	}
}

func parseToken(key []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserID returns the id set by AuthMiddleware.
func UserID(ctx *xhttp.RequestCtx) (int64, bool) {
	id, ok := ctx.UserValue(xhttp.UserIDKey).(int64)
	return id, ok && id > 0
}

func SignToken(secret string, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
