package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/pkg/vertex"
)

func newBareServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(nil, nil, nil, NewHub(zap.NewNop()), time.Second, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", zap.NewNop())
}

func TestHealthEndpoint(t *testing.T) {
	s := newBareServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Sender == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRecentExecutesWithoutJournal(t *testing.T) {
	s := newBareServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/executes", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s := newBareServer(t)

	cases := []struct {
		err  error
		want int
	}{
		{&vertex.ProtocolError{Reason: "bad field"}, http.StatusBadRequest},
		{&vertex.SigningError{Op: "sign", Err: errors.New("bad key")}, http.StatusUnprocessableEntity},
		{&vertex.ConnectionError{Op: "dial", Err: errors.New("refused")}, http.StatusBadGateway},
		{&vertex.DecodeError{Raw: "garbage", Err: errors.New("invalid json")}, http.StatusBadGateway},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.writeError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("writeError(%T) = %d, want %d", tc.err, rec.Code, tc.want)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Errorf("writeError(%T): undecodable body: %v", tc.err, err)
		} else if body.Error == "" {
			t.Errorf("writeError(%T): empty error message", tc.err)
		}
	}
}

func TestStreamFanout(t *testing.T) {
	s := newBareServer(t)
	go s.hub.Run()

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer conn.Close()

	// Registration happens on the hub goroutine; publish until the frame
	// lands or the deadline passes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("read stream frame: %v", err)
				return
			}
			if string(payload) == `{"type":"fill"}` {
				return
			}
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		s.hub.Publish([]byte(`{"type":"fill"}`))
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("published frame never reached the consumer")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestBadRequestBodyRejected(t *testing.T) {
	s := newBareServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
