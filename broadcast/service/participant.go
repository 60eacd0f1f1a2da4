package service

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nadimpalla570/myazan-app/credential"
	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/mediatransport"
)

const elapsedTickInterval = 30 * time.Second

// participant is one joined (session, identity) pair in this process: the
// transport handle, its renewal agent and the elapsed-duration ticker.
type participant struct {
	sessionID   string
	channelName string
	identity    string
	role        constants.Role

	transport mediatransport.Transport
	renewal   *credential.RenewalAgent

	joinedAt   time.Time
	elapsed    clockwork.Ticker
	tickerDone chan struct{}
}

func (s *BroadcastService) attachParticipant(
	sessionID, channelName, identity string,
	role constants.Role,
	transport mediatransport.Transport,
) {
	renewal := credential.NewRenewalAgent(s.issuer, s.store, sessionID, s.logger.Module("Renewal"))
	renewal.Initialize(transport, channelName, identity, role)

	p := &participant{
		sessionID:   sessionID,
		channelName: channelName,
		identity:    identity,
		role:        role,
		transport:   transport,
		renewal:     renewal,
		joinedAt:    s.clock.Now(),
		elapsed:     s.clock.NewTicker(elapsedTickInterval),
		tickerDone:  make(chan struct{}),
	}
	s.participants.Store(sessionID, p)
	activeParticipants.Add(context.Background(), 1)

	go s.trackElapsed(p)

	s.logger.Info("Participant attached",
		log.String("sessionId", sessionID),
		log.String("channelName", channelName),
		log.String("identity", identity),
		log.String("role", string(role)))
}

// detachParticipant destroys the participant record: renewal listener off,
// ticker stopped, transport left. No-op when the session is not joined here.
func (s *BroadcastService) detachParticipant(ctx context.Context, sessionID string) {
	p, ok := s.participants.LoadAndDelete(sessionID)
	if !ok {
		return
	}

	p.renewal.Cleanup()
	p.elapsed.Stop()
	close(p.tickerDone)

	if err := p.transport.Leave(ctx); err != nil {
		s.logger.Warn("Transport leave failed during detach",
			log.String("sessionId", sessionID),
			log.Error(err))
	}

	activeParticipants.Add(ctx, -1)
	sessionDuration.Record(ctx, s.clock.Since(p.joinedAt).Seconds())
	s.logger.Info("Participant detached",
		log.String("sessionId", sessionID),
		log.String("channelName", p.channelName),
		log.Duration("elapsed", s.clock.Since(p.joinedAt)))
}

func (s *BroadcastService) trackElapsed(p *participant) {
	for {
		select {
		case <-p.tickerDone:
			return
		case <-p.elapsed.Chan():
			s.logger.Debug("Session elapsed",
				log.String("sessionId", p.sessionID),
				log.Duration("elapsed", s.clock.Since(p.joinedAt)))
		}
	}
}
