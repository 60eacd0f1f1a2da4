package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
)

const (
	ErrInvalidRequest    errors.Code = "invalid request"
	ErrInvalidCredential errors.Code = "invalid credential"
)

// Claims is the channel-credential payload: who may join which channel at
// which role, until when.
type Claims struct {
	ChannelName string `json:"channelName"`
	Identity    string `json:"identity"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies channel credentials (HS256 JWTs).
type Codec interface {
	Sign(channelName, identity string, role constants.Role, ttl time.Duration) (string, time.Time, error)
	Verify(credential string) (*Claims, error)
}

func NewCodec(secret string, clock clockwork.Clock) Codec {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &codecImpl{
		secret: []byte(secret),
		clock:  clock,
	}
}

type codecImpl struct {
	secret []byte
	clock  clockwork.Clock
}

func (c *codecImpl) Sign(channelName, identity string, role constants.Role, ttl time.Duration) (string, time.Time, error) {
	if channelName == "" || identity == "" {
		return "", time.Time{}, errors.New(ErrInvalidRequest, "channelName and identity are required")
	}

	now := c.clock.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		ChannelName: channelName,
		Identity:    identity,
		Role:        string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(ErrInvalidRequest, err, "sign credential")
	}
	return signed, expiresAt, nil
}

func (c *codecImpl) Verify(credential string) (*Claims, error) {
	if credential == "" {
		return nil, errors.New(ErrInvalidCredential, "empty credential")
	}

	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.Newf(ErrInvalidCredential, "unexpected signing method: %s", t.Method.Alg())
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.clock.Now))

	if err != nil {
		return nil, errors.Wrap(ErrInvalidCredential, err, "parse credential")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New(ErrInvalidCredential, "invalid credential")
	}
	if claims.ChannelName == "" || claims.Identity == "" {
		return nil, errors.New(ErrInvalidCredential, "missing required fields in credential")
	}
	return claims, nil
}
