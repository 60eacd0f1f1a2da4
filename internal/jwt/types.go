package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Auth handles identity-token authentication
type Auth interface {
	Sign(identity string) (string, error)
	Verify(tokenString string) (*Payload, error)
}

// Payload represents the identity token payload
type Payload struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}
