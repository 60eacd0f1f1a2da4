package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/credential"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/log"
	isync "github.com/nadimpalla570/myazan-app/internal/sync"
	"github.com/nadimpalla570/myazan-app/mediatransport"
)

// TransportFactory creates one transport handle per joined session.
type TransportFactory func() mediatransport.Transport

// authorizationConcurrency caps parallel registry lookups per subscription.
const authorizationConcurrency = 8

type Config struct {
	Staleness     time.Duration `mapstructure:"staleness"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BroadcastService wires the coordination components into the sender and
// receiver flows.
type BroadcastService struct {
	manager   broadcast.SessionManager
	store     broadcast.SessionStore
	mux       broadcast.Multiplexer
	registry  broadcast.Registry
	issuer    credential.Issuer
	transport TransportFactory
	clock     clockwork.Clock
	cfg       Config
	logger    *log.Logger

	// participants holds one record per joined session in this process,
	// keyed by sessionId.
	participants *isync.Map[string, *participant]

	stopHousekeeping func()
}

func NewBroadcastService(
	manager broadcast.SessionManager,
	store broadcast.SessionStore,
	mux broadcast.Multiplexer,
	registry broadcast.Registry,
	issuer credential.Issuer,
	transport TransportFactory,
	clock clockwork.Clock,
	cfg Config,
	logger *log.Logger,
) *BroadcastService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BroadcastService{
		manager:      manager,
		store:        store,
		mux:          mux,
		registry:     registry,
		issuer:       issuer,
		transport:    transport,
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
		participants: isync.NewMap[string, *participant](),
	}
}

// StartBroadcast runs the sender flow: collision check, credential fetch,
// session write, transport join, renewal attach. The credential is fetched
// before any store write so a credential-service outage leaves no session
// document behind.
func (s *BroadcastService) StartBroadcast(ctx context.Context, senderID string) (*broadcast.Session, error) {
	channelName := s.manager.DeriveChannelName(senderID)
	if s.manager.HasActiveSession(ctx, channelName) {
		return nil, errors.Newf(broadcast.ErrCollision, "channel %s already live", channelName)
	}

	sessionID := fmt.Sprintf("%s_%d", senderID, s.clock.Now().UnixMilli())

	cred, err := s.issuer.Issue(ctx, channelName, senderID, broadcast.RoleSender)
	if err != nil {
		return nil, err
	}

	session := &broadcast.Session{
		SessionID:   sessionID,
		SenderID:    senderID,
		ChannelName: channelName,
		Credential:  cred.Credential,
		StartedAt:   s.clock.Now().UTC(),
		ExpiresAt:   &cred.ExpiresAt,
	}

	result, err := s.manager.StartSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if !result.Started {
		return nil, errors.Newf(broadcast.ErrCollision, "channel %s already live", channelName)
	}

	transport := s.transport()
	if err := transport.Join(ctx, cred.Credential, channelName, senderID); err != nil {
		// The document is already written; end it so the channel is not
		// wedged until the stale sweep.
		if endErr := s.manager.EndSession(ctx, sessionID); endErr != nil {
			s.logger.Error("Failed to end session after join failure",
				log.String("sessionId", sessionID),
				log.Error(endErr))
		}
		return nil, errors.Wrapf(mediatransport.ErrTransport, err, "join channel %s", channelName)
	}

	s.attachParticipant(session.SessionID, channelName, senderID, broadcast.RoleSender, transport)

	broadcastsStarted.Add(ctx, 1)
	return session, nil
}

// EndBroadcast detaches the local participant, leaves the transport and
// flips the session document off. Only the session's sender may end it.
// Idempotent for an already-ended or missing session.
func (s *BroadcastService) EndBroadcast(ctx context.Context, sessionID, identity string) error {
	doc, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(broadcast.ErrStoreUnavailable, err, "load session %s", sessionID)
	}
	if doc != nil && doc.SenderID != identity {
		return errors.Newf(broadcast.ErrNotSessionOwner,
			"session %s belongs to %s", sessionID, doc.SenderID)
	}

	s.detachParticipant(ctx, sessionID)

	if err := s.manager.EndSession(ctx, sessionID); err != nil {
		return err
	}
	broadcastsEnded.Add(ctx, 1)
	return nil
}

// ListenAsReceiver subscribes identity to the feed for the given senders.
// Authorization is resolved against the registry and fails closed: a sender
// that cannot be confirmed is left out of the filter.
func (s *BroadcastService) ListenAsReceiver(ctx context.Context, identity string, senderIDs []string) error {
	var (
		mu         sync.Mutex
		authorized = make([]string, 0, len(senderIDs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(authorizationConcurrency)
	for _, senderID := range senderIDs {
		g.Go(func() error {
			receivers, err := s.registry.AuthorizedReceivers(gctx, senderID)
			if err != nil {
				s.logger.Warn("Cannot confirm authorization, excluding sender",
					log.String("senderId", senderID),
					log.String("identity", identity),
					log.Error(err))
				return nil
			}
			for _, r := range receivers {
				if r == identity {
					mu.Lock()
					authorized = append(authorized, senderID)
					mu.Unlock()
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	cb := broadcast.Callbacks{
		OnNewAnnouncement: func(session *broadcast.Session) {
			s.joinAnnounced(ctx, session, identity)
		},
		OnAnnouncementEnded: func(sessionID, channelName string) {
			s.logger.Info("Broadcast ended, leaving channel",
				log.String("sessionId", sessionID),
				log.String("channelName", channelName))
			s.detachParticipant(ctx, sessionID)
		},
	}

	return s.mux.StartListening(ctx, cb, broadcast.RoleReceiver, identity, authorized)
}

// joinAnnounced is the receiver-side auto-join: fetch a credential for this
// identity and join the announced channel. Runs on the multiplexer dispatch
// goroutine; failures are logged and the announcement is skipped.
func (s *BroadcastService) joinAnnounced(ctx context.Context, session *broadcast.Session, identity string) {
	cred, err := s.issuer.Issue(ctx, session.ChannelName, identity, broadcast.RoleReceiver)
	if err != nil {
		s.logger.Error("Cannot fetch receiver credential, skipping broadcast",
			log.String("channelName", session.ChannelName),
			log.String("identity", identity),
			log.Error(err))
		return
	}

	transport := s.transport()
	if err := transport.Join(ctx, cred.Credential, session.ChannelName, identity); err != nil {
		s.logger.Error("Cannot join announced channel",
			log.String("channelName", session.ChannelName),
			log.String("identity", identity),
			log.Error(err))
		return
	}

	s.attachParticipant(session.SessionID, session.ChannelName, identity, broadcast.RoleReceiver, transport)
	autoJoins.Add(ctx, 1)
}

// ActiveChannels exposes the multiplexer's tracked set.
func (s *BroadcastService) ActiveChannels() []string {
	return s.mux.ActiveChannels()
}

func (s *BroadcastService) IsChannelActive(ctx context.Context, channelName string) bool {
	return s.manager.HasActiveSession(ctx, channelName)
}

// Reclaim runs one on-demand stale-session sweep.
func (s *BroadcastService) Reclaim(ctx context.Context) (int, error) {
	return s.manager.ReclaimStaleSessions(ctx, s.clock.Now(), s.cfg.Staleness)
}

// Stop tears down the subscription, every joined participant and the
// housekeeping loop before returning.
func (s *BroadcastService) Stop(ctx context.Context) {
	s.mux.StopListening()

	var ids []string
	s.participants.Range(func(sessionID string, _ *participant) bool {
		ids = append(ids, sessionID)
		return true
	})
	for _, sessionID := range ids {
		s.detachParticipant(ctx, sessionID)
	}

	if s.stopHousekeeping != nil {
		s.stopHousekeeping()
		s.stopHousekeeping = nil
	}
}
