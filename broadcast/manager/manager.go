package manager

import (
	"context"
	"strings"
	"time"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

const DefaultStaleness = 60 * time.Minute

type sessionManagerImpl struct {
	store  broadcast.SessionStore
	logger *log.Logger
}

func NewSessionManager(store broadcast.SessionStore, logger *log.Logger) broadcast.SessionManager {
	return &sessionManagerImpl{
		store:  store,
		logger: logger,
	}
}

// DeriveChannelName maps a sender identity to its one transport channel.
// Deterministic and injective, so collisions are only possible between a
// sender and itself (e.g. two devices).
func (m *sessionManagerImpl) DeriveChannelName(senderID string) string {
	return constants.ChannelPrefix + senderID
}

func (m *sessionManagerImpl) ExtractSenderID(channelName string) (string, bool) {
	if !strings.HasPrefix(channelName, constants.ChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channelName, constants.ChannelPrefix), true
}

// HasActiveSession reports whether any live session exists for the channel.
// A store failure degrades to false so broadcasts are not blocked by store
// outages; the fault is logged. The fail-open risk of a double broadcast
// during an outage is an accepted trade-off.
func (m *sessionManagerImpl) HasActiveSession(ctx context.Context, channelName string) bool {
	sessions, err := m.store.QueryLiveByChannel(ctx, channelName)
	if err != nil {
		collisionCheckErrors.Add(ctx, 1)
		m.logger.Error("Collision check failed, assuming channel is clear",
			log.String("channelName", channelName),
			log.Error(err))
		return false
	}
	return len(sessions) > 0
}

// StartSession re-checks for a collision and writes the session document.
// The check-then-write is not atomic against the store; two starts racing
// within the query-latency window can both succeed. Deterministic channel
// names keep that window confined to a single sender identity.
func (m *sessionManagerImpl) StartSession(ctx context.Context, s *broadcast.Session) (*broadcast.StartResult, error) {
	if m.HasActiveSession(ctx, s.ChannelName) {
		sessionsRejected.Add(ctx, 1)
		m.logger.Warn("Rejecting session start, channel already live",
			log.String("sessionId", s.SessionID),
			log.String("channelName", s.ChannelName))
		return &broadcast.StartResult{Started: false}, nil
	}

	s.IsLive = true
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}

	if err := m.store.Put(ctx, s); err != nil {
		return nil, errors.Wrapf(broadcast.ErrStoreUnavailable, err, "start session %s", s.SessionID)
	}

	sessionsStarted.Add(ctx, 1)
	m.logger.Info("Session started",
		log.String("sessionId", s.SessionID),
		log.String("senderId", s.SenderID),
		log.String("channelName", s.ChannelName))
	return &broadcast.StartResult{Started: true, Session: s}, nil
}

// EndSession flips isLive off. Ending an already-ended or missing session
// succeeds; the single-field update commutes with the reclamation sweep.
func (m *sessionManagerImpl) EndSession(ctx context.Context, sessionID string) error {
	if err := m.store.SetLive(ctx, sessionID, false); err != nil {
		return errors.Wrapf(broadcast.ErrStoreUnavailable, err, "end session %s", sessionID)
	}

	sessionsEnded.Add(ctx, 1)
	m.logger.Info("Session ended", log.String("sessionId", sessionID))
	return nil
}

// ReclaimStaleSessions flips isLive off for every live session older than
// the staleness threshold. Updates are best-effort per document; a failed
// update is logged and the sweep continues. Safe to run concurrently with
// itself and with start/end traffic.
func (m *sessionManagerImpl) ReclaimStaleSessions(ctx context.Context, now time.Time, staleness time.Duration) (int, error) {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}

	sessions, err := m.store.QueryLive(ctx)
	if err != nil {
		return 0, errors.Wrap(broadcast.ErrStoreUnavailable, err, "query live sessions")
	}

	cutoff := now.Add(-staleness)
	reclaimed := 0
	for _, s := range sessions {
		if !s.StartedAt.Before(cutoff) {
			continue
		}

		if err := m.store.SetLive(ctx, s.SessionID, false); err != nil {
			m.logger.Error("Failed to reclaim stale session",
				log.String("sessionId", s.SessionID),
				log.Error(err))
			continue
		}

		reclaimed++
		m.logger.Info("Reclaimed stale session",
			log.String("sessionId", s.SessionID),
			log.String("channelName", s.ChannelName),
			log.Time("startedAt", s.StartedAt))
	}

	sessionsReclaimed.Add(ctx, int64(reclaimed))
	return reclaimed, nil
}
