package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// VerifyJWT validates an HS256 bearer token and returns its subject. Used
// by the jwt auth mode, where an external issuer signs tokens with a shared
// secret.
func VerifyJWT(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Newf(errs.KindAuthentication,
				"unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", errs.Wrap(errs.KindAuthentication, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errs.New(errs.KindAuthentication, "invalid token")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errs.New(errs.KindAuthentication, "token has no subject")
	}
	return subject, nil
}
