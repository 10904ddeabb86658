package security

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the claim set of session tokens minted by the external
// identity provider. This service only ever parses them; it never mints
// tokens of its own.
type IdentityClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// ParseIdentityToken verifies an identity-provider session token and
// returns its claims. Only HMAC signing methods are accepted; issuer is
// checked when one is configured.
func ParseIdentityToken(tokenStr string, secret string, issuer string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token carries no user id")
	}
	return claims, nil
}
