package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/pkg/util"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type capturedAuth struct {
	Method    string `json:"method"`
	ID        int    `json:"id"`
	Signature string `json:"signature"`
	Tx        struct {
		Sender     string `json:"sender"`
		Expiration string `json:"expiration"`
	} `json:"tx"`
}

// streamServer accepts any number of connections, answers the auth request
// with ack, and optionally pushes frames after a successful auth.
func streamServer(t *testing.T, ack string, frames [][]byte, auths chan<- capturedAuth) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var auth capturedAuth
		if err := json.Unmarshal(payload, &auth); err != nil {
			t.Errorf("undecodable auth request: %v", err)
			return
		}
		if auths != nil {
			auths <- auth
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type chanPublisher struct {
	frames chan []byte
}

func (p *chanPublisher) Publish(payload []byte) {
	select {
	case p.frames <- payload:
	default:
	}
}

func newTestSession(t *testing.T, url string, publisher StreamPublisher, pingInterval time.Duration) *SubscriptionSession {
	t.Helper()
	return NewSubscriptionSession(SessionConfig{
		URL:          url,
		Sender:       testSender(t),
		PingInterval: pingInterval,
	}, newTestSigner(t), util.RealClock{}, publisher, zap.NewNop())
}

func TestSessionAuthenticateAndStream(t *testing.T) {
	auths := make(chan capturedAuth, 1)
	srv := streamServer(t, `{"status":"success"}`, [][]byte{[]byte(`{"type":"fill"}`)}, auths)
	defer srv.Close()

	publisher := &chanPublisher{frames: make(chan []byte, 8)}
	session := newTestSession(t, wsURL(srv), publisher, time.Minute)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := session.State(); got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
	if session.NeedsReconnect() {
		t.Error("fresh session must not flag reconnect")
	}

	auth := <-auths
	if auth.Method != "authenticate" {
		t.Errorf("method = %q, want authenticate", auth.Method)
	}
	if strings.HasPrefix(auth.Tx.Sender, "0x") || len(auth.Tx.Sender) != 64 {
		t.Errorf("auth sender must be bare 64-char hex, got %q", auth.Tx.Sender)
	}
	if !strings.HasPrefix(auth.Signature, "0x") || len(auth.Signature) != 132 {
		t.Errorf("auth signature malformed: %q", auth.Signature)
	}

	select {
	case frame := <-publisher.frames:
		if string(frame) != `{"type":"fill"}` {
			t.Errorf("published frame = %s", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream frame never reached the publisher")
	}
}

func TestSessionAuthRejected(t *testing.T) {
	srv := streamServer(t, `{"status":"failure","error":"bad signature"}`, nil, nil)
	defer srv.Close()

	session := newTestSession(t, wsURL(srv), nil, time.Minute)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := session.Start(ctx)
	if err == nil {
		t.Fatal("expected auth rejection")
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("error type = %T, want *ProtocolError", err)
	}
	if got := session.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestSessionReconnectFlow(t *testing.T) {
	auths := make(chan capturedAuth, 4)
	srv := streamServer(t, `{"status":"success"}`, nil, auths)
	defer srv.Close()

	session := newTestSession(t, wsURL(srv), nil, 5*time.Millisecond)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-auths

	// Kill the live connection out from under the session; the keepalive
	// pinger must notice and raise the flag.
	srv.CloseClientConnections()

	deadline := time.Now().Add(5 * time.Second)
	for !session.NeedsReconnect() {
		if time.Now().After(deadline) {
			t.Fatal("reconnect flag never raised after connection loss")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := session.State(); got != StateReconnectPending {
		t.Errorf("state = %s, want reconnect_pending", got)
	}

	if err := session.CheckAndReconnect(ctx); err != nil {
		t.Fatalf("CheckAndReconnect: %v", err)
	}
	if got := session.State(); got != StateActive {
		t.Errorf("state after reconnect = %s, want active", got)
	}
	if session.NeedsReconnect() {
		t.Error("reconnect flag not cleared after repair")
	}

	// The reconnect re-authenticated with a fresh payload.
	select {
	case <-auths:
	case <-time.After(time.Second):
		t.Error("no second auth request observed on reconnect")
	}

	// Idle CheckAndReconnect is a no-op.
	if err := session.CheckAndReconnect(ctx); err != nil {
		t.Fatalf("idle CheckAndReconnect: %v", err)
	}
}
