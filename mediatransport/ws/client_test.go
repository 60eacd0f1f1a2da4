package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/suite"

	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/mediatransport"
)

// fakeGateway is an in-process signaling endpoint: it acks every request
// and lets tests push server events.
type fakeGateway struct {
	srv *httptest.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	received   []envelope
	rejectJoin bool
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()
		g.serve(conn)
	}))
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) close() {
	g.srv.Close()
}

func (g *fakeGateway) serve(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		var msg envelope
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		g.mu.Lock()
		g.received = append(g.received, msg)
		reject := g.rejectJoin && msg.Type == msgJoin
		g.mu.Unlock()

		reply := envelope{Type: msgAck, ReplyTo: msg.ID}
		if reject {
			reply = envelope{Type: msgError, ReplyTo: msg.ID, Detail: "invalid credential"}
		}
		if err := wsjson.Write(ctx, conn, &reply); err != nil {
			return
		}
	}
}

func (g *fakeGateway) push(ev envelope) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, &ev)
}

func (g *fakeGateway) messages(msgType string) []envelope {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []envelope
	for _, msg := range g.received {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

type WSClientTestSuite struct {
	suite.Suite
	gateway *fakeGateway
	client  mediatransport.Transport
	ctx     context.Context
	cancel  context.CancelFunc
}

func TestWSClientSuite(t *testing.T) {
	suite.Run(t, new(WSClientTestSuite))
}

func (s *WSClientTestSuite) SetupTest() {
	s.gateway = newFakeGateway()
	s.client = NewClient(s.gateway.url(), log.NewTest(s.T()))
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *WSClientTestSuite) TearDownTest() {
	_ = s.client.Leave(s.ctx)
	s.cancel()
	s.gateway.close()
}

func (s *WSClientTestSuite) join() {
	s.Require().NoError(s.client.Join(s.ctx, "cred-alice", "myazan_alice", "alice"))
}

func (s *WSClientTestSuite) TestJoin() {
	s.join()

	joins := s.gateway.messages(msgJoin)
	s.Require().Len(joins, 1)
	s.Equal("cred-alice", joins[0].Credential)
	s.Equal("myazan_alice", joins[0].ChannelName)
	s.Equal("alice", joins[0].Identity)
	s.NotEmpty(joins[0].ID)
}

func (s *WSClientTestSuite) TestJoin_Rejected() {
	s.gateway.rejectJoin = true

	err := s.client.Join(s.ctx, "bad-cred", "myazan_alice", "alice")
	s.Require().Error(err)
	s.ErrorIs(err, mediatransport.ErrTransport)
	s.Contains(err.Error(), "invalid credential")
}

func (s *WSClientTestSuite) TestJoin_Twice() {
	s.join()

	err := s.client.Join(s.ctx, "cred-alice", "myazan_alice", "alice")
	s.Require().Error(err)
	s.ErrorIs(err, mediatransport.ErrTransport)
}

func (s *WSClientTestSuite) TestJoin_GatewayUnreachable() {
	client := NewClient("ws://127.0.0.1:1", log.NewTest(s.T()))

	err := client.Join(s.ctx, "cred", "myazan_alice", "alice")
	s.Require().Error(err)
	s.ErrorIs(err, mediatransport.ErrTransport)
}

func (s *WSClientTestSuite) TestRenew() {
	s.join()

	s.Require().NoError(s.client.Renew(s.ctx, "cred-fresh"))

	renews := s.gateway.messages(msgRenew)
	s.Require().Len(renews, 1)
	s.Equal("cred-fresh", renews[0].Credential)
}

func (s *WSClientTestSuite) TestRenew_NotJoined() {
	err := s.client.Renew(s.ctx, "cred-fresh")
	s.Require().Error(err)
	s.ErrorIs(err, mediatransport.ErrTransport)
}

func (s *WSClientTestSuite) TestLeave() {
	s.join()

	s.Require().NoError(s.client.Leave(s.ctx))
	s.Len(s.gateway.messages(msgLeave), 1)

	// Leaving again is a no-op.
	s.Require().NoError(s.client.Leave(s.ctx))
	s.Len(s.gateway.messages(msgLeave), 1)
}

func (s *WSClientTestSuite) TestRejoinAfterLeave() {
	s.join()
	s.Require().NoError(s.client.Leave(s.ctx))

	s.Require().NoError(s.client.Join(s.ctx, "cred-2", "myazan_alice", "alice"))
	s.Len(s.gateway.messages(msgJoin), 2)
}

func (s *WSClientTestSuite) TestCredentialExpiringEvent() {
	s.join()

	fired := make(chan struct{}, 1)
	cancel := s.client.OnCredentialWillExpire(func() {
		fired <- struct{}{}
	})
	defer cancel()

	s.Require().NoError(s.gateway.push(envelope{Type: evCredentialExpiring}))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		s.FailNow("expiry warning not delivered")
	}
}

func (s *WSClientTestSuite) TestParticipantEvents() {
	s.join()

	joined := make(chan string, 1)
	left := make(chan string, 1)
	s.client.OnParticipantJoined(func(identity string) { joined <- identity })
	s.client.OnParticipantLeft(func(identity string) { left <- identity })

	s.Require().NoError(s.gateway.push(envelope{Type: evParticipantJoined, Identity: "bob"}))
	s.Require().NoError(s.gateway.push(envelope{Type: evParticipantLeft, Identity: "bob"}))

	select {
	case identity := <-joined:
		s.Equal("bob", identity)
	case <-time.After(3 * time.Second):
		s.FailNow("participant-joined not delivered")
	}
	select {
	case identity := <-left:
		s.Equal("bob", identity)
	case <-time.After(3 * time.Second):
		s.FailNow("participant-left not delivered")
	}
}

func (s *WSClientTestSuite) TestListenerCancelStopsDelivery() {
	s.join()

	fired := make(chan struct{}, 4)
	cancel := s.client.OnCredentialWillExpire(func() {
		fired <- struct{}{}
	})

	cancel()
	cancel() // idempotent

	s.Require().NoError(s.gateway.push(envelope{Type: evCredentialExpiring}))

	select {
	case <-fired:
		s.FailNow("listener fired after cancel")
	case <-time.After(200 * time.Millisecond):
	}
}
