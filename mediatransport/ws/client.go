package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/nadimpalla570/myazan-app/internal/errors"
	"github.com/nadimpalla570/myazan-app/internal/log"
	"github.com/nadimpalla570/myazan-app/mediatransport"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 3 * time.Second
	ackTimeout   = 5 * time.Second
)

// envelope is the signaling wire format. Requests carry an id; the gateway
// answers with an ack or error envelope whose replyTo echoes it. Server-push
// events carry no replyTo.
type envelope struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
	ChannelName string `json:"channelName,omitempty"`
	Identity    string `json:"identity,omitempty"`
	Credential  string `json:"credential,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

const (
	msgJoin  = "join"
	msgLeave = "leave"
	msgRenew = "renew"
	msgAck   = "ack"
	msgError = "error"

	evCredentialExpiring = "credential-expiring"
	evParticipantJoined  = "participant-joined"
	evParticipantLeft    = "participant-left"
)

// NewClient returns a Transport speaking the signaling protocol against the
// media gateway at gatewayURL. One client handles one joined channel at a
// time.
func NewClient(gatewayURL string, logger *log.Logger) mediatransport.Transport {
	if logger == nil {
		panic("logger is required")
	}
	return &clientImpl{
		gatewayURL: gatewayURL,
		pending:    make(map[string]chan *envelope),
		listeners:  newListenerSet(),
		logger:     logger,
	}
}

type clientImpl struct {
	gatewayURL string
	logger     *log.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	joined   bool
	readStop context.CancelFunc
	readDone chan struct{}
	pending  map[string]chan *envelope

	listeners *listenerSet
}

func (c *clientImpl) Join(ctx context.Context, credential, channelName, identity string) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return errors.New(mediatransport.ErrTransport, "already joined a channel")
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.gatewayURL, nil)
	if err != nil {
		return errors.Wrap(mediatransport.ErrTransport, err, "dial media gateway")
	}

	readCtx, readStop := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.joined = true
	c.readStop = readStop
	c.readDone = done
	c.mu.Unlock()

	go c.readLoop(readCtx, conn, done)

	if _, err := c.request(ctx, &envelope{
		Type:        msgJoin,
		Credential:  credential,
		ChannelName: channelName,
		Identity:    identity,
	}); err != nil {
		c.teardown()
		return err
	}

	c.logger.Info("Joined channel",
		log.String("channelName", channelName),
		log.String("identity", identity))
	return nil
}

func (c *clientImpl) Leave(ctx context.Context) error {
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined {
		return nil
	}

	// Best-effort goodbye; the teardown is what matters.
	_, _ = c.request(ctx, &envelope{Type: msgLeave})
	c.teardown()

	c.logger.Info("Left channel")
	return nil
}

func (c *clientImpl) Renew(ctx context.Context, credential string) error {
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined {
		return errors.New(mediatransport.ErrTransport, "not joined")
	}

	if _, err := c.request(ctx, &envelope{Type: msgRenew, Credential: credential}); err != nil {
		return err
	}
	c.logger.Debug("Renewed channel credential")
	return nil
}

func (c *clientImpl) OnCredentialWillExpire(fn func()) mediatransport.CancelFunc {
	return c.listeners.addExpire(fn)
}

func (c *clientImpl) OnParticipantJoined(fn func(identity string)) mediatransport.CancelFunc {
	return c.listeners.addJoined(fn)
}

func (c *clientImpl) OnParticipantLeft(fn func(identity string)) mediatransport.CancelFunc {
	return c.listeners.addLeft(fn)
}

func (c *clientImpl) OnError(fn func(err error)) mediatransport.CancelFunc {
	return c.listeners.addError(fn)
}

// request writes an envelope and waits for the matching ack. A server error
// envelope resolves the wait with a transport error.
func (c *clientImpl) request(ctx context.Context, req *envelope) (*envelope, error) {
	req.ID = uuid.New().String()
	replyCh := make(chan *envelope, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, errors.New(mediatransport.ErrTransport, "connection closed")
	}
	c.pending[req.ID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, req); err != nil {
		return nil, errors.Wrapf(mediatransport.ErrTransport, err, "send %s", req.Type)
	}

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(mediatransport.ErrTransport, ctx.Err(), "await ack")
	case <-time.After(ackTimeout):
		return nil, errors.Newf(mediatransport.ErrTransport, "%s not acknowledged in time", req.Type)
	case reply := <-replyCh:
		if reply.Type == msgError {
			return nil, errors.Newf(mediatransport.ErrTransport, "gateway rejected %s: %s", req.Type, reply.Detail)
		}
		return reply, nil
	}
}

func (c *clientImpl) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var msg envelope
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Media gateway connection lost", log.Error(err))
				c.listeners.fireError(errors.Wrap(mediatransport.ErrTransport, err, "connection lost"))
			}
			return
		}
		c.dispatch(&msg)
	}
}

func (c *clientImpl) dispatch(msg *envelope) {
	if msg.ReplyTo != "" {
		c.mu.Lock()
		replyCh, ok := c.pending[msg.ReplyTo]
		c.mu.Unlock()
		if ok {
			replyCh <- msg
		}
		return
	}

	switch msg.Type {
	case evCredentialExpiring:
		c.listeners.fireExpire()
	case evParticipantJoined:
		c.listeners.fireJoined(msg.Identity)
	case evParticipantLeft:
		c.listeners.fireLeft(msg.Identity)
	case msgError:
		c.listeners.fireError(errors.Newf(mediatransport.ErrTransport, "gateway error: %s", msg.Detail))
	default:
		c.logger.Debug("Ignoring unknown gateway message", log.String("type", msg.Type))
	}
}

func (c *clientImpl) teardown() {
	c.mu.Lock()
	conn := c.conn
	readStop := c.readStop
	readDone := c.readDone
	c.conn = nil
	c.joined = false
	c.readStop = nil
	c.readDone = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if readStop != nil {
		readStop()
	}
	if readDone != nil {
		<-readDone
	}
}
