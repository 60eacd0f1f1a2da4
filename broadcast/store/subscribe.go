package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

const subscribeBatchBuffer = 16

// Subscribe opens the live-session change feed. Changes are classified
// against membership of the "isLive == true" result set, so a session whose
// isLive flips to false arrives as Removed even though the key still exists.
// The watch is re-established with exponential backoff after feed errors;
// after a reconnect the result set is re-seeded and diffed, so consumers see
// at most duplicated transitions, never missed ones.
func (ss *sessionStoreImpl) Subscribe(ctx context.Context) (<-chan broadcast.ChangeBatch, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	sub := &subscription{
		store:  ss,
		ch:     make(chan broadcast.ChangeBatch, subscribeBatchBuffer),
		live:   make(map[string]*broadcast.Session),
		logger: ss.logger,
	}

	go sub.run(ctx)

	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}
	return sub.ch, stop, nil
}

type subscription struct {
	store *sessionStoreImpl
	ch    chan broadcast.ChangeBatch

	// live is the current result-set membership, keyed by sessionId and
	// holding the last-known document for Removed events. Touched only by
	// the run goroutine.
	live map[string]*broadcast.Session

	logger *log.Logger
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.ch)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	for {
		err := s.seedAndWatch(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		s.logger.Warn("Session feed interrupted, re-subscribing",
			log.Error(err),
			log.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// seedAndWatch fetches the current result set, emits the diff against the
// previous membership, then streams watch events from the snapshot revision.
func (s *subscription) seedAndWatch(ctx context.Context) error {
	resp, err := s.store.etcdClient.Get(ctx, s.store.prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}

	current := make(map[string]*broadcast.Session)
	for _, kv := range resp.Kvs {
		doc := s.parseDoc(string(kv.Key), kv.Value)
		if doc != nil && doc.IsLive {
			current[doc.SessionID] = doc
		}
	}

	var batch broadcast.ChangeBatch
	for id, doc := range current {
		if _, ok := s.live[id]; !ok {
			batch.Changes = append(batch.Changes, broadcast.Change{Kind: broadcast.ChangeAdded, Doc: doc})
		}
	}
	for id, doc := range s.live {
		if _, ok := current[id]; !ok {
			batch.Changes = append(batch.Changes, broadcast.Change{Kind: broadcast.ChangeRemoved, Doc: doc})
		}
	}
	s.live = current
	if !s.emit(ctx, batch) {
		return ctx.Err()
	}

	watchCh := s.store.etcdClient.Watch(ctx, s.store.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(resp.Header.Revision+1))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wresp, ok := <-watchCh:
			if !ok {
				return backoff.Permanent(nil)
			}
			if err := wresp.Err(); err != nil {
				return err
			}

			var batch broadcast.ChangeBatch
			for _, ev := range wresp.Events {
				if change, ok := s.classify(ev); ok {
					batch.Changes = append(batch.Changes, change)
				}
			}
			if !s.emit(ctx, batch) {
				return ctx.Err()
			}
		}
	}
}

func (s *subscription) classify(ev *clientv3.Event) (broadcast.Change, bool) {
	switch ev.Type {
	case clientv3.EventTypePut:
		doc := s.parseDoc(string(ev.Kv.Key), ev.Kv.Value)
		if doc == nil {
			return broadcast.Change{}, false
		}
		_, inSet := s.live[doc.SessionID]
		switch {
		case doc.IsLive && !inSet:
			s.live[doc.SessionID] = doc
			return broadcast.Change{Kind: broadcast.ChangeAdded, Doc: doc}, true
		case doc.IsLive && inSet:
			s.live[doc.SessionID] = doc
			return broadcast.Change{Kind: broadcast.ChangeModified, Doc: doc}, true
		case !doc.IsLive && inSet:
			delete(s.live, doc.SessionID)
			return broadcast.Change{Kind: broadcast.ChangeRemoved, Doc: doc}, true
		default:
			return broadcast.Change{}, false
		}

	case clientv3.EventTypeDelete:
		id := s.sessionIDFromKey(string(ev.Kv.Key))
		prev, inSet := s.live[id]
		if !inSet {
			return broadcast.Change{}, false
		}
		delete(s.live, id)
		return broadcast.Change{Kind: broadcast.ChangeRemoved, Doc: prev}, true
	}

	return broadcast.Change{}, false
}

func (s *subscription) emit(ctx context.Context, batch broadcast.ChangeBatch) bool {
	if len(batch.Changes) == 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case s.ch <- batch:
		return true
	}
}

func (s *subscription) sessionIDFromKey(key string) string {
	if len(key) <= len(s.store.prefix) {
		return ""
	}
	return key[len(s.store.prefix):]
}

func (s *subscription) parseDoc(key string, value []byte) *broadcast.Session {
	var doc broadcast.Session
	if err := json.Unmarshal(value, &doc); err != nil {
		s.logger.Error("Skipping malformed session document",
			log.String("key", key),
			log.Error(err))
		return nil
	}
	if doc.SessionID == "" {
		doc.SessionID = s.sessionIDFromKey(key)
	}
	return &doc
}
