package sharekhan

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

const (
	// streamWriteWait is the time allowed to write a message to the peer.
	streamWriteWait = 10 * time.Second

	// streamPongWait is the time allowed to read the next pong message.
	streamPongWait = 30 * time.Second

	// streamPingPeriod sends pings at this interval. Must be less than pongWait.
	streamPingPeriod = (streamPongWait * 9) / 10
)

// TickHandler is called for every LTP tick received on the stream.
type TickHandler func(domain.Tick)

// AckHandler is called for every order acknowledgement received on the stream.
type AckHandler func(domain.OrderAck)

// DisconnectHandler is called once when the stream drops without Close being
// called.
type DisconnectHandler func(err error)

// Stream is the WebSocket client for the Sharekhan streaming feed. It owns
// the socket and its keep-alive; connection lifecycle policy (when to connect,
// when to retry) belongs to the caller.
type Stream struct {
	wsURL  string
	apiKey string

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	closed bool

	tickHandler       TickHandler
	ackHandler        AckHandler
	disconnectHandler DisconnectHandler
}

// NewStream creates a new streaming client.
//
// wsURL is the WebSocket endpoint, e.g. "wss://stream.sharekhan.com/skstream/api/stream".
func NewStream(wsURL, apiKey string) *Stream {
	return &Stream{wsURL: wsURL, apiKey: apiKey}
}

// OnTick registers the tick handler. Must be called before Connect.
func (s *Stream) OnTick(h TickHandler) { s.tickHandler = h }

// OnAck registers the ack handler. Must be called before Connect.
func (s *Stream) OnAck(h AckHandler) { s.ackHandler = h }

// OnDisconnect registers the disconnect handler. Must be called before Connect.
func (s *Stream) OnDisconnect(h DisconnectHandler) { s.disconnectHandler = h }

// Connect dials the streaming endpoint authenticating with the given session
// token. Any previous connection is torn down first.
func (s *Stream) Connect(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sharekhan/stream: client is closed")
	}

	s.teardownLocked()

	u, err := url.Parse(s.wsURL)
	if err != nil {
		return fmt.Errorf("sharekhan/stream: parse url: %w", err)
	}
	q := u.Query()
	q.Set("ACCESS_TOKEN", accessToken)
	q.Set("API_KEY", s.apiKey)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("sharekhan/stream: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	done := make(chan struct{})
	s.conn = conn
	s.done = done

	go s.readLoop(conn, done)
	go s.pingLoop(conn, done)

	return nil
}

// Send writes a control message to the stream.
func (s *Stream) Send(msg ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return domain.ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sharekhan/stream: marshal %s: %w", msg.Action, err)
	}

	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sharekhan/stream: send %s: %w", msg.Action, err)
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Disconnect tears down the current connection without closing the client;
// a later Connect establishes a fresh one.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}
	s.teardownLocked()
}

// Close shuts down the stream permanently.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}
	s.teardownLocked()
	return nil
}

// teardownLocked closes the current connection and stops its loops.
// Caller must hold s.mu.
func (s *Stream) teardownLocked() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// --------------------------------------------------------------------------
// Internal loops
// --------------------------------------------------------------------------

func (s *Stream) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate teardown, not a drop.
				return
			default:
			}

			s.mu.Lock()
			if s.conn == conn {
				s.teardownLocked()
			}
			s.mu.Unlock()

			if s.disconnectHandler != nil {
				s.disconnectHandler(fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err))
			}
			return
		}

		s.handleMessage(message)
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw stream message and routes it. The server sends
// a bare "heartbeat" text frame between data messages; anything that is not
// a JSON envelope is dropped.
func (s *Stream) handleMessage(raw []byte) {
	var envelope StreamEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Message {
	case "feed":
		var data FeedData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return
		}
		if s.tickHandler != nil {
			s.tickHandler(domain.Tick{
				ScripCode: data.ScripCode,
				LTP:       data.LTP,
				At:        time.Now(),
			})
		}

	case "ack":
		var data AckData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return
		}
		state := data.State()
		if state == "" || s.ackHandler == nil {
			return
		}
		s.ackHandler(domain.OrderAck{
			OrderID: data.OrderID.String(),
			State:   state,
			At:      time.Now(),
		})
	}
}
