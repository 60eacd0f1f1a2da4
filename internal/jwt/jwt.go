package jwt

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/nadimpalla570/myazan-app/internal/errors"
)

// NewAuth creates a new identity-token authenticator with HS256 algorithm (default)
func NewAuth(secret string) Auth {
	return NewAuthWithAlgorithm(secret, jwt.SigningMethodHS256)
}

// NewAuthWithAlgorithm creates a new identity-token authenticator with specified algorithm
// Supported algorithms: HS256, HS384, HS512
func NewAuthWithAlgorithm(secret string, method jwt.SigningMethod) Auth {
	allowedMethods := map[string]bool{
		method.Alg(): true,
	}
	return &jwtAuthImpl{
		secret:         []byte(secret),
		signingMethod:  method,
		allowedMethods: allowedMethods,
	}
}

type jwtAuthImpl struct {
	secret         []byte
	signingMethod  jwt.SigningMethod
	allowedMethods map[string]bool
}

// Sign creates an identity token for the given identity
func (j *jwtAuthImpl) Sign(identity string) (string, error) {
	if identity == "" {
		return "", errors.New(ErrInvalidRequest, "identity is required")
	}

	claims := &Payload{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: identity,
		},
	}

	token := jwt.NewWithClaims(j.signingMethod, claims)
	return token.SignedString(j.secret)
}

// Verify verifies an identity token with strict algorithm validation
func (j *jwtAuthImpl) Verify(tokenString string) (*Payload, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Payload{}, func(token *jwt.Token) (any, error) {
		// Strictly validate the algorithm matches what we expect
		alg := token.Method.Alg()
		if !j.allowedMethods[alg] {
			return nil, errors.Newf(
				ErrInvalidToken,
				"unexpected signing method: %s (expected: %s)",
				alg, j.signingMethod.Alg(),
			)
		}
		return j.secret, nil
	})

	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "parse identity token")
	}

	if claims, ok := token.Claims.(*Payload); ok && token.Valid {
		if claims.Identity == "" {
			return nil, errors.New(ErrInvalidToken, "missing identity in token")
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
