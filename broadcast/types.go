package broadcast

import (
	"context"
	"time"

	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
)

// Role aliases the shared role constant type for convenience.
type Role = constants.Role

const (
	RoleSender   = constants.RoleSender
	RoleReceiver = constants.RoleReceiver
)

// Error codes shared by the coordination components. Callers classify with
// errors.Is against these sentinels.
const (
	ErrCollision        errors.Code = "collision"
	ErrStoreUnavailable errors.Code = "store unavailable"
	ErrNotSessionOwner  errors.Code = "not session owner"
)

// Session is one live-broadcast document. The JSON field names are the wire
// and storage contract; do not rename without a migration.
type Session struct {
	SessionID   string     `json:"sessionId"`
	SenderID    string     `json:"senderId"`
	ChannelName string     `json:"channelName"`
	Credential  string     `json:"credential"`
	StartedAt   time.Time  `json:"startedAt"`
	IsLive      bool       `json:"isLive"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ChangeKind classifies a change-feed event relative to the live-session
// result set, not the raw key operation.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

type Change struct {
	Kind ChangeKind
	Doc  *Session
}

// ChangeBatch is one delivery from the store subscription. Changes within a
// batch are in feed order; no ordering is guaranteed across batches.
type ChangeBatch struct {
	Changes []Change
}

// SessionStore is the accessor over the replicated session documents.
type SessionStore interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	SetLive(ctx context.Context, sessionID string, live bool) error
	UpdateCredential(ctx context.Context, sessionID, credential string, expiresAt *time.Time) error
	QueryLive(ctx context.Context) ([]*Session, error)
	QueryLiveByChannel(ctx context.Context, channelName string) ([]*Session, error)

	// Subscribe opens a change feed filtered to live sessions. The returned
	// cancel func is idempotent and closes the batch channel.
	Subscribe(ctx context.Context) (<-chan ChangeBatch, func(), error)
}

// StartResult is the outcome of a StartSession attempt.
type StartResult struct {
	Started bool
	// Rejected reason when Started is false and err was nil (collision).
	Session *Session
}

// SessionManager owns channel naming, collision prevention and the session
// lifecycle.
type SessionManager interface {
	DeriveChannelName(senderID string) string
	ExtractSenderID(channelName string) (string, bool)
	HasActiveSession(ctx context.Context, channelName string) bool
	StartSession(ctx context.Context, s *Session) (*StartResult, error)
	EndSession(ctx context.Context, sessionID string) error
	ReclaimStaleSessions(ctx context.Context, now time.Time, staleness time.Duration) (int, error)
}

// Callbacks receives de-duplicated session transitions from a multiplexer.
// Both funcs are invoked from the multiplexer dispatch goroutine.
type Callbacks struct {
	OnNewAnnouncement   func(s *Session)
	OnAnnouncementEnded func(sessionID, channelName string)
}

// Multiplexer demultiplexes the live-session change feed into per-listener
// start/end notifications.
type Multiplexer interface {
	// StartListening is a no-op (with a warning) while already listening.
	// authorizedSenderIDs is only consulted for RoleReceiver; nil means no
	// client-side filter.
	StartListening(ctx context.Context, cb Callbacks, role Role, identity string, authorizedSenderIDs []string) error
	StopListening()
	IsChannelActive(channelName string) bool
	ActiveChannels() []string
}

// Registry resolves which receiver identities may auto-join a sender's
// sessions. Consumed read-only.
type Registry interface {
	AuthorizedReceivers(ctx context.Context, senderID string) ([]string, error)
}
