package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

// stubStore implements broadcast.SessionStore with overridable behavior per
// test case.
type stubStore struct {
	broadcast.SessionStore

	putFn            func(ctx context.Context, s *broadcast.Session) error
	setLiveFn        func(ctx context.Context, sessionID string, live bool) error
	queryLiveFn      func(ctx context.Context) ([]*broadcast.Session, error)
	queryByChannelFn func(ctx context.Context, channelName string) ([]*broadcast.Session, error)

	putCalls     []*broadcast.Session
	setLiveCalls []string
}

func (f *stubStore) Put(ctx context.Context, s *broadcast.Session) error {
	f.putCalls = append(f.putCalls, s)
	if f.putFn != nil {
		return f.putFn(ctx, s)
	}
	return nil
}

func (f *stubStore) SetLive(ctx context.Context, sessionID string, live bool) error {
	f.setLiveCalls = append(f.setLiveCalls, sessionID)
	if f.setLiveFn != nil {
		return f.setLiveFn(ctx, sessionID, live)
	}
	return nil
}

func (f *stubStore) QueryLive(ctx context.Context) ([]*broadcast.Session, error) {
	if f.queryLiveFn != nil {
		return f.queryLiveFn(ctx)
	}
	return nil, nil
}

func (f *stubStore) QueryLiveByChannel(ctx context.Context, channelName string) ([]*broadcast.Session, error) {
	if f.queryByChannelFn != nil {
		return f.queryByChannelFn(ctx, channelName)
	}
	return nil, nil
}

type SessionManagerTestSuite struct {
	suite.Suite
	store  *stubStore
	mgr    broadcast.SessionManager
	ctx    context.Context
	cancel context.CancelFunc
}

func TestSessionManagerSuite(t *testing.T) {
	suite.Run(t, new(SessionManagerTestSuite))
}

func (s *SessionManagerTestSuite) SetupTest() {
	s.store = &stubStore{}
	s.mgr = NewSessionManager(s.store, log.NewTest(s.T()))
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *SessionManagerTestSuite) TearDownTest() {
	s.cancel()
}

// Channel naming

func (s *SessionManagerTestSuite) TestDeriveChannelName() {
	s.Equal("myazan_alice", s.mgr.DeriveChannelName("alice"))
	s.Equal("myazan_bob-2", s.mgr.DeriveChannelName("bob-2"))
}

func (s *SessionManagerTestSuite) TestDeriveChannelName_Deterministic() {
	s.Equal(s.mgr.DeriveChannelName("alice"), s.mgr.DeriveChannelName("alice"))
}

func (s *SessionManagerTestSuite) TestExtractSenderID() {
	senderID, ok := s.mgr.ExtractSenderID("myazan_alice")
	s.True(ok)
	s.Equal("alice", senderID)
}

func (s *SessionManagerTestSuite) TestExtractSenderID_WrongPrefix() {
	_, ok := s.mgr.ExtractSenderID("other_alice")
	s.False(ok)
}

func (s *SessionManagerTestSuite) TestExtractSenderID_RoundTrip() {
	senderID, ok := s.mgr.ExtractSenderID(s.mgr.DeriveChannelName("carol"))
	s.True(ok)
	s.Equal("carol", senderID)
}

// HasActiveSession

func (s *SessionManagerTestSuite) TestHasActiveSession_Live() {
	s.store.queryByChannelFn = func(_ context.Context, channelName string) ([]*broadcast.Session, error) {
		s.Equal("myazan_alice", channelName)
		return []*broadcast.Session{{SessionID: "alice_1", IsLive: true}}, nil
	}

	s.True(s.mgr.HasActiveSession(s.ctx, "myazan_alice"))
}

func (s *SessionManagerTestSuite) TestHasActiveSession_Empty() {
	s.store.queryByChannelFn = func(context.Context, string) ([]*broadcast.Session, error) {
		return nil, nil
	}

	s.False(s.mgr.HasActiveSession(s.ctx, "myazan_alice"))
}

func (s *SessionManagerTestSuite) TestHasActiveSession_StoreErrorAssumesClear() {
	s.store.queryByChannelFn = func(context.Context, string) ([]*broadcast.Session, error) {
		return nil, errors.New("etcd connection error")
	}

	s.False(s.mgr.HasActiveSession(s.ctx, "myazan_alice"))
}

// StartSession

func (s *SessionManagerTestSuite) TestStartSession_Success() {
	s.store.queryByChannelFn = func(context.Context, string) ([]*broadcast.Session, error) {
		return nil, nil
	}

	result, err := s.mgr.StartSession(s.ctx, &broadcast.Session{
		SessionID:   "alice_1700000000000",
		SenderID:    "alice",
		ChannelName: "myazan_alice",
	})
	s.Require().NoError(err)
	s.True(result.Started)
	s.Require().Len(s.store.putCalls, 1)

	stored := s.store.putCalls[0]
	s.True(stored.IsLive)
	s.False(stored.StartedAt.IsZero())
}

func (s *SessionManagerTestSuite) TestStartSession_KeepsExplicitStartedAt() {
	s.store.queryByChannelFn = func(context.Context, string) ([]*broadcast.Session, error) {
		return nil, nil
	}

	startedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	result, err := s.mgr.StartSession(s.ctx, &broadcast.Session{
		SessionID:   "alice_1",
		ChannelName: "myazan_alice",
		StartedAt:   startedAt,
	})
	s.Require().NoError(err)
	s.True(result.Started)
	s.Equal(startedAt, s.store.putCalls[0].StartedAt)
}

func (s *SessionManagerTestSuite) TestStartSession_CollisionRejectsWithoutWrite() {
	s.store.queryByChannelFn = func(context.Context, string) ([]*broadcast.Session, error) {
		return []*broadcast.Session{{SessionID: "alice_1", IsLive: true}}, nil
	}

	result, err := s.mgr.StartSession(s.ctx, &broadcast.Session{
		SessionID:   "alice_2",
		ChannelName: "myazan_alice",
	})
	s.Require().NoError(err)
	s.False(result.Started)
	s.Empty(s.store.putCalls)
}

func (s *SessionManagerTestSuite) TestStartSession_PutError() {
	s.store.queryByChannelFn = func(context.Context, string) ([]*broadcast.Session, error) {
		return nil, nil
	}
	s.store.putFn = func(context.Context, *broadcast.Session) error {
		return errors.New("etcd connection error")
	}

	_, err := s.mgr.StartSession(s.ctx, &broadcast.Session{
		SessionID:   "alice_1",
		ChannelName: "myazan_alice",
	})
	s.Require().Error(err)
	s.ErrorIs(err, broadcast.ErrStoreUnavailable)
}

// EndSession

func (s *SessionManagerTestSuite) TestEndSession() {
	s.Require().NoError(s.mgr.EndSession(s.ctx, "alice_1"))
	s.Equal([]string{"alice_1"}, s.store.setLiveCalls)
}

func (s *SessionManagerTestSuite) TestEndSession_StoreError() {
	s.store.setLiveFn = func(context.Context, string, bool) error {
		return errors.New("etcd connection error")
	}

	err := s.mgr.EndSession(s.ctx, "alice_1")
	s.Require().Error(err)
	s.ErrorIs(err, broadcast.ErrStoreUnavailable)
}

// ReclaimStaleSessions

func (s *SessionManagerTestSuite) TestReclaimStaleSessions() {
	now := time.Now()
	s.store.queryLiveFn = func(context.Context) ([]*broadcast.Session, error) {
		return []*broadcast.Session{
			{SessionID: "old_1", StartedAt: now.Add(-2 * time.Hour), IsLive: true},
			{SessionID: "fresh_1", StartedAt: now.Add(-5 * time.Minute), IsLive: true},
			{SessionID: "old_2", StartedAt: now.Add(-61 * time.Minute), IsLive: true},
		}, nil
	}

	reclaimed, err := s.mgr.ReclaimStaleSessions(s.ctx, now, time.Hour)
	s.Require().NoError(err)
	s.Equal(2, reclaimed)
	s.ElementsMatch([]string{"old_1", "old_2"}, s.store.setLiveCalls)
}

func (s *SessionManagerTestSuite) TestReclaimStaleSessions_ExactlyAtCutoffKept() {
	now := time.Now()
	s.store.queryLiveFn = func(context.Context) ([]*broadcast.Session, error) {
		return []*broadcast.Session{
			{SessionID: "edge_1", StartedAt: now.Add(-time.Hour), IsLive: true},
		}, nil
	}

	reclaimed, err := s.mgr.ReclaimStaleSessions(s.ctx, now, time.Hour)
	s.Require().NoError(err)
	s.Zero(reclaimed)
}

func (s *SessionManagerTestSuite) TestReclaimStaleSessions_ContinuesPastUpdateFailure() {
	now := time.Now()
	s.store.queryLiveFn = func(context.Context) ([]*broadcast.Session, error) {
		return []*broadcast.Session{
			{SessionID: "old_1", StartedAt: now.Add(-2 * time.Hour), IsLive: true},
			{SessionID: "old_2", StartedAt: now.Add(-2 * time.Hour), IsLive: true},
		}, nil
	}
	s.store.setLiveFn = func(_ context.Context, sessionID string, _ bool) error {
		if sessionID == "old_1" {
			return errors.New("etcd connection error")
		}
		return nil
	}

	reclaimed, err := s.mgr.ReclaimStaleSessions(s.ctx, now, time.Hour)
	s.Require().NoError(err)
	s.Equal(1, reclaimed)
	s.Len(s.store.setLiveCalls, 2)
}

func (s *SessionManagerTestSuite) TestReclaimStaleSessions_QueryError() {
	s.store.queryLiveFn = func(context.Context) ([]*broadcast.Session, error) {
		return nil, errors.New("etcd connection error")
	}

	_, err := s.mgr.ReclaimStaleSessions(s.ctx, time.Now(), time.Hour)
	s.Require().Error(err)
	s.ErrorIs(err, broadcast.ErrStoreUnavailable)
}
