package ws

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nadimpalla570/myazan-app/mediatransport"
)

// listenerSet holds event listener registrations. Cancel funcs are
// idempotent; firing and (de)registration may interleave freely.
type listenerSet struct {
	mu       sync.Mutex
	onExpire map[string]func()
	onJoined map[string]func(identity string)
	onLeft   map[string]func(identity string)
	onError  map[string]func(err error)
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		onExpire: make(map[string]func()),
		onJoined: make(map[string]func(identity string)),
		onLeft:   make(map[string]func(identity string)),
		onError:  make(map[string]func(err error)),
	}
}

func (ls *listenerSet) cancelFunc(remove func()) mediatransport.CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			remove()
		})
	}
}

func (ls *listenerSet) addExpire(fn func()) mediatransport.CancelFunc {
	id := uuid.New().String()
	ls.mu.Lock()
	ls.onExpire[id] = fn
	ls.mu.Unlock()
	return ls.cancelFunc(func() { delete(ls.onExpire, id) })
}

func (ls *listenerSet) addJoined(fn func(identity string)) mediatransport.CancelFunc {
	id := uuid.New().String()
	ls.mu.Lock()
	ls.onJoined[id] = fn
	ls.mu.Unlock()
	return ls.cancelFunc(func() { delete(ls.onJoined, id) })
}

func (ls *listenerSet) addLeft(fn func(identity string)) mediatransport.CancelFunc {
	id := uuid.New().String()
	ls.mu.Lock()
	ls.onLeft[id] = fn
	ls.mu.Unlock()
	return ls.cancelFunc(func() { delete(ls.onLeft, id) })
}

func (ls *listenerSet) addError(fn func(err error)) mediatransport.CancelFunc {
	id := uuid.New().String()
	ls.mu.Lock()
	ls.onError[id] = fn
	ls.mu.Unlock()
	return ls.cancelFunc(func() { delete(ls.onError, id) })
}

func (ls *listenerSet) fireExpire() {
	for _, fn := range ls.snapshotExpire() {
		fn()
	}
}

func (ls *listenerSet) fireJoined(identity string) {
	for _, fn := range ls.snapshotIdentity(&ls.onJoined) {
		fn(identity)
	}
}

func (ls *listenerSet) fireLeft(identity string) {
	for _, fn := range ls.snapshotIdentity(&ls.onLeft) {
		fn(identity)
	}
}

func (ls *listenerSet) fireError(err error) {
	ls.mu.Lock()
	fns := make([]func(error), 0, len(ls.onError))
	for _, fn := range ls.onError {
		fns = append(fns, fn)
	}
	ls.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (ls *listenerSet) snapshotExpire() []func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	fns := make([]func(), 0, len(ls.onExpire))
	for _, fn := range ls.onExpire {
		fns = append(fns, fn)
	}
	return fns
}

func (ls *listenerSet) snapshotIdentity(m *map[string]func(identity string)) []func(string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	fns := make([]func(string), 0, len(*m))
	for _, fn := range *m {
		fns = append(fns, fn)
	}
	return fns
}
