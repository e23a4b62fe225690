package chainrpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/types"
)

const (
	handshakeTimeout     = 10 * time.Second
	pingInterval         = 30 * time.Second
	writeTimeout         = 10 * time.Second
	initialReconnectWait = time.Second
	maxReconnectWait     = time.Minute
)

// Event is a pushed notification from a chain node: pool state changes,
// runtime upgrades, new asset registrations.
type Event struct {
	Chain  types.ChainID
	Method string
	Params json.RawMessage
}

// Subscription maintains a websocket subscription to one chain node,
// resubscribing after connection loss with exponential backoff. Events
// are delivered on a buffered channel; when the consumer lags, the
// oldest undelivered event is dropped in favor of the newest.
type Subscription struct {
	chain        types.ChainID
	url          string
	subscribeMsg any
	log          *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan Event
	done   chan struct{}
	closed sync.Once
}

// NewSubscription creates a subscription. subscribeMsg is sent verbatim
// after every (re)connect.
func NewSubscription(chain types.ChainID, url string, subscribeMsg any, log *zap.Logger) *Subscription {
	return &Subscription{
		chain:        chain,
		url:          url,
		subscribeMsg: subscribeMsg,
		log:          log.Named("chainsub").With(zap.String("chain", string(chain))),
		events:       make(chan Event, 1024),
		done:         make(chan struct{}),
	}
}

// Events returns the event feed. The channel is closed when the
// subscription shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Start connects and runs the read loop until ctx is canceled or Close
// is called. The first connect is attempted synchronously so callers
// learn about a bad endpoint immediately.
func (s *Subscription) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	go s.run(ctx)
	return nil
}

// Close tears the subscription down.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

func (s *Subscription) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	if s.subscribeMsg != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(s.subscribeMsg); err != nil {
			conn.Close()
			return err
		}
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.log.Debug("subscribed", zap.String("url", s.url))
	return nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.events)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	go s.pingLoop(ctx, pingTicker)

	wait := initialReconnectWait
	for {
		err := s.readLoop()
		if err == nil || s.stopping(ctx) {
			return
		}

		s.log.Warn("connection lost, reconnecting", zap.Error(err), zap.Duration("wait", wait))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}

		if err := s.connect(ctx); err != nil {
			wait *= 2
			if wait > maxReconnectWait {
				wait = maxReconnectWait
			}
			continue
		}
		wait = initialReconnectWait
	}
}

func (s *Subscription) readLoop() error {
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return nil
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Method == "" {
			// Acks and unrecognized frames are ignored.
			continue
		}

		ev := Event{Chain: s.chain, Method: msg.Method, Params: msg.Params}
		select {
		case s.events <- ev:
		default:
			// Consumer is behind: drop the oldest event.
			select {
			case <-s.events:
			default:
			}
			select {
			case s.events <- ev:
			default:
			}
		}
	}
}

func (s *Subscription) pingLoop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.PingMessage, nil)
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}
