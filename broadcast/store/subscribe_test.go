package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/nadimpalla570/myazan-app/broadcast"
	"github.com/nadimpalla570/myazan-app/internal/etcd/fakes"
	"github.com/nadimpalla570/myazan-app/internal/log"
)

const feedTimeout = 3 * time.Second

type SubscribeTestSuite struct {
	suite.Suite
	kv     *fakes.MemKV
	store  broadcast.SessionStore
	ctx    context.Context
	cancel context.CancelFunc
}

func TestSubscribeSuite(t *testing.T) {
	suite.Run(t, new(SubscribeTestSuite))
}

func (s *SubscribeTestSuite) SetupTest() {
	s.kv = fakes.NewMemKV()
	s.store = NewSessionStore(s.kv, "/myazan/sessions/", log.NewTest(s.T()))
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *SubscribeTestSuite) TearDownTest() {
	s.cancel()
}

func (s *SubscribeTestSuite) session(senderID string, live bool) *broadcast.Session {
	return &broadcast.Session{
		SessionID:   senderID + "_1700000000000",
		SenderID:    senderID,
		ChannelName: "myazan_" + senderID,
		IsLive:      live,
		StartedAt:   time.Now().UTC(),
	}
}

// subscribe opens the feed and blocks until the watch is established, so
// subsequent writes are guaranteed to be observed.
func (s *SubscribeTestSuite) subscribe() (<-chan broadcast.ChangeBatch, func()) {
	ch, stop, err := s.store.Subscribe(s.ctx)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.kv.WatcherCount() == 1
	}, feedTimeout, 10*time.Millisecond)

	return ch, stop
}

func (s *SubscribeTestSuite) nextBatch(ch <-chan broadcast.ChangeBatch) broadcast.ChangeBatch {
	select {
	case batch, ok := <-ch:
		s.Require().True(ok, "feed closed unexpectedly")
		return batch
	case <-time.After(feedTimeout):
		s.Require().FailNow("timed out waiting for change batch")
		return broadcast.ChangeBatch{}
	}
}

func (s *SubscribeTestSuite) expectNoBatch(ch <-chan broadcast.ChangeBatch) {
	select {
	case batch := <-ch:
		s.Require().FailNowf("unexpected batch", "%+v", batch)
	case <-time.After(200 * time.Millisecond):
	}
}

func (s *SubscribeTestSuite) TestSeedEmitsExistingLiveSessions() {
	s.Require().NoError(s.store.Put(s.ctx, s.session("alice", true)))
	s.Require().NoError(s.store.Put(s.ctx, s.session("bob", false)))

	ch, stop := s.subscribe()
	defer stop()

	batch := s.nextBatch(ch)
	s.Require().Len(batch.Changes, 1)
	s.Equal(broadcast.ChangeAdded, batch.Changes[0].Kind)
	s.Equal("alice", batch.Changes[0].Doc.SenderID)
}

func (s *SubscribeTestSuite) TestNewLiveSessionArrivesAsAdded() {
	ch, stop := s.subscribe()
	defer stop()

	s.Require().NoError(s.store.Put(s.ctx, s.session("alice", true)))

	batch := s.nextBatch(ch)
	s.Require().Len(batch.Changes, 1)
	s.Equal(broadcast.ChangeAdded, batch.Changes[0].Kind)
	s.Equal("myazan_alice", batch.Changes[0].Doc.ChannelName)
}

func (s *SubscribeTestSuite) TestLiveFlipOffArrivesAsRemoved() {
	in := s.session("alice", true)
	s.Require().NoError(s.store.Put(s.ctx, in))

	ch, stop := s.subscribe()
	defer stop()
	s.nextBatch(ch) // seed

	s.Require().NoError(s.store.SetLive(s.ctx, in.SessionID, false))

	batch := s.nextBatch(ch)
	s.Require().Len(batch.Changes, 1)
	s.Equal(broadcast.ChangeRemoved, batch.Changes[0].Kind)
	s.Equal(in.SessionID, batch.Changes[0].Doc.SessionID)
}

func (s *SubscribeTestSuite) TestDeletionArrivesAsRemoved() {
	in := s.session("alice", true)
	s.Require().NoError(s.store.Put(s.ctx, in))

	ch, stop := s.subscribe()
	defer stop()
	s.nextBatch(ch) // seed

	_, err := s.kv.Delete(s.ctx, "/myazan/sessions/"+in.SessionID)
	s.Require().NoError(err)

	batch := s.nextBatch(ch)
	s.Require().Len(batch.Changes, 1)
	s.Equal(broadcast.ChangeRemoved, batch.Changes[0].Kind)
	s.Equal(in.SessionID, batch.Changes[0].Doc.SessionID)
	s.Equal("myazan_alice", batch.Changes[0].Doc.ChannelName)
}

func (s *SubscribeTestSuite) TestInPlaceUpdateArrivesAsModified() {
	in := s.session("alice", true)
	s.Require().NoError(s.store.Put(s.ctx, in))

	ch, stop := s.subscribe()
	defer stop()
	s.nextBatch(ch) // seed

	s.Require().NoError(s.store.UpdateCredential(s.ctx, in.SessionID, "renewed", nil))

	batch := s.nextBatch(ch)
	s.Require().Len(batch.Changes, 1)
	s.Equal(broadcast.ChangeModified, batch.Changes[0].Kind)
	s.Equal("renewed", batch.Changes[0].Doc.Credential)
}

func (s *SubscribeTestSuite) TestNonLiveWritesInvisible() {
	ch, stop := s.subscribe()
	defer stop()

	s.Require().NoError(s.store.Put(s.ctx, s.session("bob", false)))

	s.expectNoBatch(ch)
}

func (s *SubscribeTestSuite) TestEndOfUntrackedSessionInvisible() {
	ch, stop := s.subscribe()
	defer stop()

	in := s.session("bob", false)
	s.Require().NoError(s.store.Put(s.ctx, in))
	_, err := s.kv.Delete(s.ctx, "/myazan/sessions/"+in.SessionID)
	s.Require().NoError(err)

	s.expectNoBatch(ch)
}

func (s *SubscribeTestSuite) TestCancelClosesFeed() {
	ch, stop := s.subscribe()

	stop()
	stop() // idempotent

	s.Require().Eventually(func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, feedTimeout, 10*time.Millisecond)
}

func (s *SubscribeTestSuite) TestMalformedDocumentSkipped() {
	ch, stop := s.subscribe()
	defer stop()

	_, err := s.kv.Put(s.ctx, "/myazan/sessions/broken_1", "{not json")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Put(s.ctx, s.session("alice", true)))

	batch := s.nextBatch(ch)
	s.Require().Len(batch.Changes, 1)
	s.Equal("alice", batch.Changes[0].Doc.SenderID)
}
