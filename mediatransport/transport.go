package mediatransport

import (
	"context"

	"github.com/nadimpalla570/myazan-app/internal/errors"
)

// ErrTransport marks failures surfaced by the media transport. A session
// hit by one is unusable until rejoined.
const ErrTransport errors.Code = "transport error"

// CancelFunc deregisters a listener. Calling it more than once is a no-op.
type CancelFunc func()

// Transport is the media-transport contract the coordination layer depends
// on. Join binds this handle to one channel; all event listeners fire from
// the transport's dispatch goroutine and may fire late unless deregistered.
type Transport interface {
	Join(ctx context.Context, credential, channelName, identity string) error
	Leave(ctx context.Context) error

	// Renew installs a replacement credential into the live session without
	// interrupting the media stream.
	Renew(ctx context.Context, credential string) error

	// OnCredentialWillExpire fires a fixed lead time before the installed
	// credential's hard expiry.
	OnCredentialWillExpire(fn func()) CancelFunc
	OnParticipantJoined(fn func(identity string)) CancelFunc
	OnParticipantLeft(fn func(identity string)) CancelFunc
	OnError(fn func(err error)) CancelFunc
}
