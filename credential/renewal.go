package credential

import (
	"context"
	"sync"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/constants"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/internal/utils"
	"github.com/nadimpalla570/myazan-app/mediatransport"
)

// RenewalAgent keeps one joined (session, identity, role) tuple's credential
// alive: when the transport warns the installed credential is about to
// expire, it fetches a replacement and installs it in place. One fetch, one
// install, no retry; on failure the session keeps running on the old
// credential until the transport enforces the hard deadline.
type RenewalAgent struct {
	issuer Issuer
	// store is optional; when set, the fresh credential is recorded back
	// into the session document best-effort.
	store     broadcast.SessionStore
	sessionID string
	logger    *log.Logger

	mu          sync.Mutex
	initialized bool
	alive       bool
	transport   mediatransport.Transport
	cancel      mediatransport.CancelFunc
	channelName string
	identity    string
	role        constants.Role
}

func NewRenewalAgent(issuer Issuer, store broadcast.SessionStore, sessionID string, logger *log.Logger) *RenewalAgent {
	if issuer == nil {
		panic("issuer is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &RenewalAgent{
		issuer:    issuer,
		store:     store,
		sessionID: sessionID,
		logger:    logger,
	}
}

// Initialize registers the expiry-warning listener against the transport.
// Must be paired with exactly one Cleanup; re-initializing an initialized
// agent is rejected as a no-op with a warning.
func (a *RenewalAgent) Initialize(transport mediatransport.Transport, channelName, identity string, role constants.Role) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		a.logger.Warn("Renewal agent already initialized",
			log.String("sessionId", a.sessionID))
		return
	}

	a.transport = transport
	a.channelName = channelName
	a.identity = identity
	a.role = role
	a.initialized = true
	a.alive = true
	a.cancel = transport.OnCredentialWillExpire(a.onExpiryWarning)

	a.logger.Debug("Renewal agent attached",
		log.String("sessionId", a.sessionID),
		log.String("channelName", channelName),
		log.String("identity", identity))
}

// Cleanup deregisters the listener and drops the transport reference. Safe
// to call without a prior Initialize and safe to call repeatedly; only the
// first call after Initialize deregisters.
func (a *RenewalAgent) Cleanup() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.transport = nil
	a.alive = false
	a.initialized = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (a *RenewalAgent) onExpiryWarning() {
	a.mu.Lock()
	// Guard against the warning firing after Cleanup tore the agent down.
	if !a.alive {
		a.mu.Unlock()
		return
	}
	transport := a.transport
	channelName, identity, role := a.channelName, a.identity, a.role
	a.mu.Unlock()

	renewalAttempts.Add(context.Background(), 1)
	a.logger.Info("Credential expiring, fetching replacement",
		log.String("sessionId", a.sessionID),
		log.String("channelName", channelName))

	ctx, cancel := context.WithTimeout(context.Background(), issueTimeout)
	defer cancel()

	cred, err := a.issuer.Issue(ctx, channelName, identity, role)
	if err != nil {
		renewalFailures.Add(ctx, 1)
		a.logger.Error("Credential renewal fetch failed, session keeps current credential",
			log.String("sessionId", a.sessionID),
			log.Error(err))
		return
	}

	if err := transport.Renew(ctx, cred.Credential); err != nil {
		renewalFailures.Add(ctx, 1)
		a.logger.Error("Credential install failed, session keeps current credential",
			log.String("sessionId", a.sessionID),
			log.Error(err))
		return
	}

	renewalSuccess.Add(ctx, 1)
	a.logger.Info("Credential renewed",
		log.String("sessionId", a.sessionID),
		log.Time("expiresAt", cred.ExpiresAt))

	if a.store != nil {
		if err := a.store.UpdateCredential(ctx, a.sessionID, cred.Credential, utils.Ptr(cred.ExpiresAt)); err != nil {
			a.logger.Warn("Failed to record renewed credential in session document",
				log.String("sessionId", a.sessionID),
				log.Error(err))
		}
	}
}
