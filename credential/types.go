package credential

import (
	"context"
	"time"

	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
)

const (
	ErrUnauthenticated errors.Code = "unauthenticated"
	ErrUnavailable     errors.Code = "credential service unavailable"
)

// Credential is a short-lived channel-join token issued by the credential
// service for one (channelName, identity, role) tuple.
type Credential struct {
	Credential string    `json:"credential"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Issuer requests transport credentials from the credential service.
type Issuer interface {
	Issue(ctx context.Context, channelName, identity string, role constants.Role) (*Credential, error)
}
