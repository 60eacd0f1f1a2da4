package store

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/etcd"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

type sessionStoreImpl struct {
	etcdClient etcd.Client
	prefix     string
	logger     *log.Logger
}

// NewSessionStore returns a SessionStore keeping one JSON document per
// session under prefix. The document field layout is the external contract
// (see broadcast.Session).
func NewSessionStore(etcdClient etcd.Client, prefix string, logger *log.Logger) broadcast.SessionStore {
	return &sessionStoreImpl{
		etcdClient: etcdClient,
		prefix:     prefix,
		logger:     logger,
	}
}

func (ss *sessionStoreImpl) sessionKey(sessionID string) string {
	return ss.prefix + sessionID
}

func (ss *sessionStoreImpl) Put(ctx context.Context, s *broadcast.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(broadcast.ErrStoreUnavailable, err, "marshal session")
	}

	if _, err := ss.etcdClient.Put(ctx, ss.sessionKey(s.SessionID), string(data)); err != nil {
		return errors.Wrapf(broadcast.ErrStoreUnavailable, err, "put session %s", s.SessionID)
	}

	ss.logger.Info("Wrote session document",
		log.String("sessionId", s.SessionID),
		log.String("channelName", s.ChannelName),
		log.Bool("isLive", s.IsLive))
	return nil
}

func (ss *sessionStoreImpl) Get(ctx context.Context, sessionID string) (*broadcast.Session, error) {
	resp, err := ss.etcdClient.Get(ctx, ss.sessionKey(sessionID))
	if err != nil {
		return nil, errors.Wrapf(broadcast.ErrStoreUnavailable, err, "get session %s", sessionID)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var s broadcast.Session
	if err := json.Unmarshal(resp.Kvs[0].Value, &s); err != nil {
		return nil, errors.Wrapf(broadcast.ErrStoreUnavailable, err, "unmarshal session %s", sessionID)
	}
	return &s, nil
}

func (ss *sessionStoreImpl) SetLive(ctx context.Context, sessionID string, live bool) error {
	return ss.mutate(ctx, sessionID, func(s *broadcast.Session) bool {
		if s.IsLive == live {
			return false
		}
		s.IsLive = live
		return true
	})
}

func (ss *sessionStoreImpl) UpdateCredential(ctx context.Context, sessionID, credential string, expiresAt *time.Time) error {
	return ss.mutate(ctx, sessionID, func(s *broadcast.Session) bool {
		s.Credential = credential
		s.ExpiresAt = expiresAt
		return true
	})
}

// mutate is a read-modify-write partial update. Updating an absent document
// is a no-op success, which makes EndSession idempotent against deletion.
func (ss *sessionStoreImpl) mutate(ctx context.Context, sessionID string, apply func(*broadcast.Session) bool) error {
	s, err := ss.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		ss.logger.Debug("Session not found, skipping update", log.String("sessionId", sessionID))
		return nil
	}

	if !apply(s) {
		return nil
	}
	return ss.Put(ctx, s)
}

func (ss *sessionStoreImpl) QueryLive(ctx context.Context) ([]*broadcast.Session, error) {
	return ss.queryLive(ctx, func(*broadcast.Session) bool { return true })
}

func (ss *sessionStoreImpl) QueryLiveByChannel(ctx context.Context, channelName string) ([]*broadcast.Session, error) {
	return ss.queryLive(ctx, func(s *broadcast.Session) bool {
		return s.ChannelName == channelName
	})
}

func (ss *sessionStoreImpl) queryLive(ctx context.Context, match func(*broadcast.Session) bool) ([]*broadcast.Session, error) {
	resp, err := ss.etcdClient.Get(ctx, ss.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(broadcast.ErrStoreUnavailable, err, "query sessions")
	}

	var out []*broadcast.Session
	for _, kv := range resp.Kvs {
		var s broadcast.Session
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			ss.logger.Error("Failed to unmarshal session document",
				log.String("key", string(kv.Key)),
				log.Error(err))
			continue
		}
		if s.IsLive && match(&s) {
			out = append(out, &s)
		}
	}
	return out, nil
}
