package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/log"
	isync "github.com/nadimpalla570/myazan-app/internal/sync"
)

// NewMultiplexer returns a Multiplexer over the store's live-session feed.
// Each instance owns its tracked set, so independent subscriptions can
// coexist (one per listening identity).
func NewMultiplexer(store broadcast.SessionStore, logger *log.Logger) broadcast.Multiplexer {
	return &multiplexerImpl{
		store:   store,
		tracked: isync.NewMap[string, string](),
		logger:  logger,
	}
}

type multiplexerImpl struct {
	store broadcast.SessionStore

	// tracked maps channelName -> sessionId for channels currently believed
	// live. Mutated only from the dispatch goroutine; read by introspection.
	tracked *isync.Map[string, string]

	// run is the active subscription, nil when idle. mu serializes
	// StartListening and StopListening, which arrive from concurrent
	// request handlers.
	mu  sync.Mutex
	run *feedRun

	logger *log.Logger
}

// feedRun is one subscription lifetime. stopped is the liveness guard every
// callback dispatch checks, so no callback fires after StopListening returns.
type feedRun struct {
	cancel  func()
	done    chan struct{}
	stopped atomic.Bool
}

func (m *multiplexerImpl) StartListening(
	ctx context.Context,
	cb broadcast.Callbacks,
	role broadcast.Role,
	identity string,
	authorizedSenderIDs []string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run != nil {
		m.logger.Warn("Already listening, keeping existing subscription",
			log.String("identity", identity))
		return nil
	}

	var authorized map[string]struct{}
	if role == broadcast.RoleReceiver && authorizedSenderIDs != nil {
		authorized = make(map[string]struct{}, len(authorizedSenderIDs))
		for _, id := range authorizedSenderIDs {
			authorized[id] = struct{}{}
		}
	}

	ch, cancel, err := m.store.Subscribe(ctx)
	if err != nil {
		return err
	}

	run := &feedRun{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.run = run

	m.logger.Info("Listening for session announcements",
		log.String("identity", identity),
		log.String("role", string(role)),
		log.Int("authorizedSenders", len(authorizedSenderIDs)))

	go m.dispatch(ctx, run, ch, cb, authorized)
	return nil
}

// StopListening cancels the subscription, waits for the dispatch goroutine
// to drain and clears the tracked set. No-op when idle.
func (m *multiplexerImpl) StopListening() {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.run
	if run == nil {
		return
	}

	run.stopped.Store(true)
	run.cancel()
	<-run.done

	m.tracked.Clear()
	m.run = nil
	m.logger.Info("Stopped listening for session announcements")
}

func (m *multiplexerImpl) IsChannelActive(channelName string) bool {
	_, ok := m.tracked.Load(channelName)
	return ok
}

func (m *multiplexerImpl) ActiveChannels() []string {
	var out []string
	m.tracked.Range(func(channelName, _ string) bool {
		out = append(out, channelName)
		return true
	})
	return out
}

func (m *multiplexerImpl) dispatch(
	ctx context.Context,
	run *feedRun,
	ch <-chan broadcast.ChangeBatch,
	cb broadcast.Callbacks,
	authorized map[string]struct{},
) {
	defer close(run.done)

	for batch := range ch {
		for _, change := range batch.Changes {
			if run.stopped.Load() || ctx.Err() != nil {
				return
			}
			m.handleChange(ctx, change, cb, authorized)
		}
	}
}

func (m *multiplexerImpl) handleChange(
	ctx context.Context,
	change broadcast.Change,
	cb broadcast.Callbacks,
	authorized map[string]struct{},
) {
	doc := change.Doc
	if doc == nil {
		return
	}

	// Fail closed: with an authorization set present, unknown senders are
	// invisible to this listener.
	if authorized != nil {
		if _, ok := authorized[doc.SenderID]; !ok {
			return
		}
	}

	live := change.Kind != broadcast.ChangeRemoved && doc.IsLive
	_, isTracked := m.tracked.Load(doc.ChannelName)

	switch {
	case live && !isTracked:
		m.tracked.Store(doc.ChannelName, doc.SessionID)
		announcementsStarted.Add(ctx, 1)
		m.logger.Info("Session announcement",
			log.String("sessionId", doc.SessionID),
			log.String("channelName", doc.ChannelName))
		if cb.OnNewAnnouncement != nil {
			cb.OnNewAnnouncement(doc)
		}

	case !live && isTracked:
		m.tracked.Delete(doc.ChannelName)
		announcementsEnded.Add(ctx, 1)
		m.logger.Info("Session announcement ended",
			log.String("sessionId", doc.SessionID),
			log.String("channelName", doc.ChannelName))
		if cb.OnAnnouncementEnded != nil {
			cb.OnAnnouncementEnded(doc.SessionID, doc.ChannelName)
		}

	default:
		// Still-live re-notification or an end for an untracked channel.
		// The tracked set is the de-duplication boundary: no transition,
		// no callback.
	}
}
