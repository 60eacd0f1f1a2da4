package fakes

import (
	"context"
	"sync"

	"github.com/nadimpalla570/myazan-app/mediatransport"
)

// Transport is a scriptable in-memory transport for tests. Event firing is
// synchronous.
type Transport struct {
	mu sync.Mutex

	Joined           bool
	JoinedChannel    string
	JoinedIdentity   string
	JoinedCredential string
	Renewed          []string
	LeaveCalls       int

	JoinErr  error
	RenewErr error
	LeaveErr error

	nextID      int
	expireFns   map[int]func()
	joinedFns   map[int]func(string)
	leftFns     map[int]func(string)
	errorFns    map[int]func(error)
	Deregisters int
}

func NewTransport() *Transport {
	return &Transport{
		expireFns: make(map[int]func()),
		joinedFns: make(map[int]func(string)),
		leftFns:   make(map[int]func(string)),
		errorFns:  make(map[int]func(error)),
	}
}

func (t *Transport) Join(_ context.Context, credential, channelName, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.JoinErr != nil {
		return t.JoinErr
	}
	t.Joined = true
	t.JoinedCredential = credential
	t.JoinedChannel = channelName
	t.JoinedIdentity = identity
	return nil
}

func (t *Transport) Leave(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LeaveCalls++
	if t.LeaveErr != nil {
		return t.LeaveErr
	}
	t.Joined = false
	return nil
}

func (t *Transport) Renew(_ context.Context, credential string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RenewErr != nil {
		return t.RenewErr
	}
	t.Renewed = append(t.Renewed, credential)
	return nil
}

func (t *Transport) OnCredentialWillExpire(fn func()) mediatransport.CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.expireFns[id] = fn
	return t.cancel(func() { delete(t.expireFns, id) })
}

func (t *Transport) OnParticipantJoined(fn func(identity string)) mediatransport.CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.joinedFns[id] = fn
	return t.cancel(func() { delete(t.joinedFns, id) })
}

func (t *Transport) OnParticipantLeft(fn func(identity string)) mediatransport.CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.leftFns[id] = fn
	return t.cancel(func() { delete(t.leftFns, id) })
}

func (t *Transport) OnError(fn func(err error)) mediatransport.CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.errorFns[id] = fn
	return t.cancel(func() { delete(t.errorFns, id) })
}

func (t *Transport) cancel(remove func()) mediatransport.CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.Deregisters++
			remove()
		})
	}
}

// FireCredentialWillExpire invokes all registered expiry listeners.
func (t *Transport) FireCredentialWillExpire() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.expireFns))
	for _, fn := range t.expireFns {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ExpireListenerCount reports currently registered expiry listeners.
func (t *Transport) ExpireListenerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expireFns)
}
