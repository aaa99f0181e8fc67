package vertex

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/pkg/util"
	"github.com/Gaialynx/toadefi/pkg/vertex/tx"
	"github.com/Gaialynx/toadefi/pkg/ws"
)

// SessionState tracks the subscription stream lifecycle.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticating
	StateActive
	StateReconnectPending
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// StreamPublisher receives every inbound frame from the authenticated stream
// (market data, fills, acks) for local fan-out.
type StreamPublisher interface {
	Publish(payload []byte)
}

// SessionConfig configures the long-lived subscription stream.
type SessionConfig struct {
	URL          string
	Sender       tx.Subaccount
	AuthTTL      time.Duration // expiration window for the auth payload
	PingInterval time.Duration
}

// SubscriptionSession owns the authenticated streaming connection: it dials,
// authenticates, runs a listener and a keepalive pinger, and re-establishes
// the session when the pinger flags a dead connection.
//
// Recovery is poll-based: the pinger sets needsReconnect and terminates, and
// a supervisory loop polls CheckAndReconnect. The session is known-broken for
// up to one poll interval before repair; an accepted trade-off of the design.
type SubscriptionSession struct {
	cfg       SessionConfig
	signer    *PayloadSigner
	clock     util.Clock
	publisher StreamPublisher
	log       *zap.Logger

	state          atomic.Int32
	needsReconnect atomic.Bool

	// mu guards conn and done; the connection handle is owned exclusively
	// by this session.
	mu   sync.Mutex
	conn *ws.Conn
	done chan struct{}
}

type authenticateRequest struct {
	Method    string                      `json:"method"`
	ID        int                         `json:"id"`
	Tx        tx.StreamAuthenticationWire `json:"tx"`
	Signature string                      `json:"signature"`
}

type authenticateAck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewSubscriptionSession wires a session. publisher may be nil when no local
// consumer wants the stream.
func NewSubscriptionSession(cfg SessionConfig, signer *PayloadSigner, clock util.Clock, publisher StreamPublisher, log *zap.Logger) *SubscriptionSession {
	if cfg.AuthTTL <= 0 {
		cfg.AuthTTL = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &SubscriptionSession{
		cfg:       cfg,
		signer:    signer,
		clock:     clock,
		publisher: publisher,
		log:       log,
	}
}

// Start dials the streaming URL, authenticates, and spawns the listener and
// keepalive pinger. The dial retries with backoff until ctx is cancelled.
func (s *SubscriptionSession) Start(ctx context.Context) error {
	return s.connect(ctx)
}

func (s *SubscriptionSession) connect(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))

	conn, err := ws.Dial(ctx, s.cfg.URL, s.log)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return &ConnectionError{Op: "dial", Err: err}
	}

	s.state.Store(int32(StateAuthenticating))

	// The auth expiration is computed at send time; a cached payload would
	// be rejected by the exchange after expiry.
	payload, err := s.authPayload()
	if err != nil {
		conn.Close()
		s.state.Store(int32(StateDisconnected))
		return err
	}

	reply, err := conn.SendAndReceiveOne(payload)
	if err != nil {
		conn.Close()
		s.state.Store(int32(StateDisconnected))
		return &ConnectionError{Op: "authenticate", Err: err}
	}

	var ack authenticateAck
	if err := json.Unmarshal(reply, &ack); err != nil {
		conn.Close()
		s.state.Store(int32(StateDisconnected))
		return &DecodeError{Raw: string(reply), Err: err}
	}
	if ack.Status == "failure" {
		conn.Close()
		s.state.Store(int32(StateDisconnected))
		return &ProtocolError{Reason: "authentication rejected: " + ack.Error}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	s.needsReconnect.Store(false)
	s.state.Store(int32(StateActive))
	s.log.Info("subscription session active",
		zap.String("url", s.cfg.URL),
		zap.String("sender", s.cfg.Sender.Hex()))

	go s.listen(conn, done)
	go s.keepalive(conn, done)
	return nil
}

func (s *SubscriptionSession) authPayload() ([]byte, error) {
	expiration := uint64(s.clock.Now().UnixMilli()) + uint64(s.cfg.AuthTTL.Milliseconds())
	txn := tx.StreamAuthentication{Sender: s.cfg.Sender, Expiration: expiration}

	signature, err := s.signer.Sign(txn)
	if err != nil {
		return nil, err
	}

	return json.Marshal(authenticateRequest{
		Method:    "authenticate",
		ID:        0,
		Tx:        txn.Wire(),
		Signature: signature,
	})
}

// listen reads inbound frames in arrival order and fans them out. It exits on
// read failure; recovery is the pinger's and supervisor's job.
func (s *SubscriptionSession) listen(conn *ws.Conn, done chan struct{}) {
	for {
		msgType, payload, err := conn.Read()
		if err != nil {
			select {
			case <-done:
			default:
				s.log.Warn("stream listener stopped", zap.Error(err))
			}
			return
		}
		if msgType != ws.TextMessage {
			s.log.Debug("ignoring non-text stream frame", zap.Int("type", msgType))
			continue
		}
		if s.publisher != nil {
			s.publisher.Publish(payload)
		}
	}
}

// keepalive pings every PingInterval. On failure it sets the reconnect flag
// and terminates; it does not reconnect itself.
func (s *SubscriptionSession) keepalive(conn *ws.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				s.log.Warn("ping failed, signaling reconnection", zap.Error(err))
				s.state.Store(int32(StateReconnectPending))
				s.needsReconnect.Store(true)
				return
			}
		}
	}
}

// CheckAndReconnect is polled periodically by a supervisory loop. If the
// reconnect flag is set it tears the old connection down, re-dials,
// re-authenticates with a freshly signed payload, clears the flag, and
// restarts exactly one listener/pinger pair.
func (s *SubscriptionSession) CheckAndReconnect(ctx context.Context) error {
	if !s.needsReconnect.Load() {
		return nil
	}
	s.log.Info("reconnect flag set, re-establishing subscription")
	s.teardown()
	return s.connect(ctx)
}

// NeedsReconnect reports whether the keepalive pinger has flagged the
// connection as dead.
func (s *SubscriptionSession) NeedsReconnect() bool {
	return s.needsReconnect.Load()
}

// State returns the current session state.
func (s *SubscriptionSession) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *SubscriptionSession) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close shuts the session down.
func (s *SubscriptionSession) Close() {
	s.teardown()
	s.state.Store(int32(StateDisconnected))
}
