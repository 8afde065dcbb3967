package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// tokenType discriminates upload-link tokens from admin session tokens
const tokenType = "upload_link"

// ErrInvalidToken covers signature mismatches and malformed payloads.
// Callers surface it as an authentication failure with no further detail.
var ErrInvalidToken = errors.New("invalid token")

// LinkClaims binds an upload-link identity to a client identity. There is
// deliberately no expiry claim: validity is governed by the UploadLink
// record's IsActive/ExpiresAt fields, so a link can be deactivated or
// expire without revoking the token itself.
type LinkClaims struct {
	UploadLinkID string `json:"upload_link_id"`
	ClientID     uint   `json:"client_id"`
	Type         string `json:"type"`
	jwt.RegisteredClaims
}

// Issue signs a stateless bearer token for an upload link
func Issue(uploadLinkID string, clientID uint, secret string) (string, error) {
	claims := LinkClaims{
		UploadLinkID: uploadLinkID,
		ClientID:     clientID,
		Type:         tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "docuflow",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Verify checks the signature and payload shape of a link token. It does
// not consult the database; business validity is the state machine's job.
func Verify(tokenString, secret string) (*LinkClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*LinkClaims)
	if !ok || claims.Type != tokenType || claims.UploadLinkID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
