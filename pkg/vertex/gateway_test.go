package vertex

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/pkg/crypto"
	"github.com/Gaialynx/toadefi/pkg/util"
	"github.com/Gaialynx/toadefi/pkg/vertex/tx"
)

const testBookAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

// gatewayServer emulates the exchange gateway's one-shot request protocol:
// each connection carries a single request frame and a single response frame.
// Requests are recorded for later inspection.
func gatewayServer(t *testing.T, respond func(req map[string]json.RawMessage) string) *httptest.Server {
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
		var req map[string]json.RawMessage
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Errorf("undecodable gateway request: %v", err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(respond(req)))
	}))
}

func newTestGateway(t *testing.T, url string, journal ExecuteLog) *GatewayClient {
	t.Helper()
	clock := util.RealClock{}
	return NewGatewayClient(GatewayConfig{
		URL:              url,
		ChainID:          testChainID,
		EndpointContract: testContract,
	}, newTestSigner(t), NewNonceSource(clock, 0), clock, journal, zap.NewNop())
}

func contractsJSON() string {
	data, _ := json.Marshal(ContractsResponse{
		Status: "success",
		Data: &ContractsData{
			ChainID:      strconv.Itoa(testChainID),
			EndpointAddr: testContract,
			BookAddrs:    []string{"0x0000000000000000000000000000000000000000", testBookAddr},
		},
	})
	return string(data)
}

func TestStatusQuery(t *testing.T) {
	srv := gatewayServer(t, func(req map[string]json.RawMessage) string {
		var queryType string
		json.Unmarshal(req["type"], &queryType)
		if queryType != QueryStatus {
			t.Errorf("query type = %q, want %q", queryType, QueryStatus)
		}
		return `{"status":"success","data":"active"}`
	})
	defer srv.Close()

	gateway := newTestGateway(t, wsURL(srv), nil)
	resp, err := gateway.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestStatusDecodeError(t *testing.T) {
	srv := gatewayServer(t, func(map[string]json.RawMessage) string {
		return `not json`
	})
	defer srv.Close()

	gateway := newTestGateway(t, wsURL(srv), nil)
	_, err := gateway.Status(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if decodeErr.Raw != "not json" {
		t.Errorf("raw payload not preserved: %q", decodeErr.Raw)
	}
}

func TestBookAddress(t *testing.T) {
	srv := gatewayServer(t, func(map[string]json.RawMessage) string {
		return contractsJSON()
	})
	defer srv.Close()

	gateway := newTestGateway(t, wsURL(srv), nil)
	addr, err := gateway.BookAddress(context.Background(), 1)
	if err != nil {
		t.Fatalf("BookAddress: %v", err)
	}
	if addr != common.HexToAddress(testBookAddr) {
		t.Errorf("book address = %s, want %s", addr.Hex(), testBookAddr)
	}

	// Product 0's zero address means no order book.
	_, err = gateway.BookAddress(context.Background(), 0)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("zero book address: error = %v, want *ProtocolError", err)
	}

	// Out of range product id.
	_, err = gateway.BookAddress(context.Background(), 99)
	if !errors.As(err, &protoErr) {
		t.Errorf("unknown product: error = %v, want *ProtocolError", err)
	}
}

func TestPlaceOrderMissingOrder(t *testing.T) {
	gateway := newTestGateway(t, "ws://127.0.0.1:1", nil)

	_, err := gateway.PlaceOrder(context.Background(), &PlaceOrderRequest{ProductID: 1})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
	if !strings.Contains(err.Error(), "order is missing in the request") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestPlaceOrderSignsAgainstBook(t *testing.T) {
	type orderBody struct {
		ProductID uint32       `json:"product_id"`
		Order     tx.OrderWire `json:"order"`
		Signature string       `json:"signature"`
		ID        int64        `json:"id"`
	}
	orders := make(chan orderBody, 1)

	srv := gatewayServer(t, func(req map[string]json.RawMessage) string {
		if _, ok := req["type"]; ok {
			return contractsJSON()
		}
		raw, ok := req["place_order"]
		if !ok {
			t.Errorf("unexpected request keys: %v", keys(req))
			return `{"status":"failure","error":"bad request"}`
		}
		var body orderBody
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("undecodable place_order: %v", err)
			return `{"status":"failure"}`
		}
		orders <- body
		return `{"status":"success","request_type":"execute_place_order"}`
	})
	defer srv.Close()

	gateway := newTestGateway(t, wsURL(srv), nil)
	resp, err := gateway.PlaceOrder(context.Background(), &PlaceOrderRequest{
		ProductID: 1,
		Order: &OrderRequest{
			Sender: testAddr,
			Price:  "20000",
			Amount: "0.1",
		},
		OrderType:  OrderTypePostOnly,
		TTLSeconds: 30,
		ID:         7,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("status = %q", resp.Status)
	}

	body := <-orders
	if body.ProductID != 1 || body.ID != 7 {
		t.Errorf("product/id = %d/%d", body.ProductID, body.ID)
	}
	if body.Order.PriceX18 != "20000000000000000000000" {
		t.Errorf("priceX18 = %q", body.Order.PriceX18)
	}
	if body.Order.Amount != "100000000000000000" {
		t.Errorf("amount = %q", body.Order.Amount)
	}
	if strings.HasPrefix(body.Order.Sender, "0x") {
		t.Errorf("wire sender carries 0x prefix: %s", body.Order.Sender)
	}

	exp, err := strconv.ParseUint(body.Order.Expiration, 10, 64)
	if err != nil {
		t.Fatalf("expiration not numeric: %v", err)
	}
	if got := DecodeOrderType(exp); got != OrderTypePostOnly {
		t.Errorf("order type in expiration = %d, want post-only", got)
	}

	// The signature must verify against the book contract, not the endpoint.
	verifyWireSignature(t, body.Signature, common.HexToAddress(testBookAddr), wireToOrder(t, body.Order))
}

func TestCancelOrdersSignsAgainstEndpoint(t *testing.T) {
	type cancelBody struct {
		Tx        tx.CancellationWire `json:"tx"`
		Signature string              `json:"signature"`
	}
	cancels := make(chan cancelBody, 1)

	srv := gatewayServer(t, func(req map[string]json.RawMessage) string {
		raw, ok := req["cancel_orders"]
		if !ok {
			t.Errorf("unexpected request keys: %v", keys(req))
			return `{"status":"failure"}`
		}
		var body cancelBody
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("undecodable cancel_orders: %v", err)
			return `{"status":"failure"}`
		}
		cancels <- body
		return `{"status":"success"}`
	})
	defer srv.Close()

	digest := "0x" + strings.Repeat("ab", 32)
	gateway := newTestGateway(t, wsURL(srv), nil)
	resp, err := gateway.CancelOrders(context.Background(), &CancelOrdersRequest{
		Sender:     testAddr,
		ProductIDs: []uint32{1},
		Digests:    []string{digest},
	})
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("status = %q", resp.Status)
	}

	body := <-cancels
	if len(body.Tx.Digests) != 1 || body.Tx.Digests[0] != digest {
		t.Errorf("digests = %v", body.Tx.Digests)
	}

	sender, err := tx.SubaccountFromHex(body.Tx.Sender)
	if err != nil {
		t.Fatalf("wire sender: %v", err)
	}
	nonce, _ := strconv.ParseUint(body.Tx.Nonce, 10, 64)
	verifyWireSignature(t, body.Signature, common.HexToAddress(testContract), tx.Cancellation{
		Sender:     sender,
		ProductIDs: body.Tx.ProductIDs,
		Digests:    []common.Hash{common.HexToHash(digest)},
		Nonce:      nonce,
	})
}

func TestCancelOrdersRejectsBadDigest(t *testing.T) {
	gateway := newTestGateway(t, "ws://127.0.0.1:1", nil)
	_, err := gateway.CancelOrders(context.Background(), &CancelOrdersRequest{
		Sender:  testAddr,
		Digests: []string{"0x1234"},
	})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("error = %v, want *ProtocolError", err)
	}
}

func TestExecuteFailureSurfaced(t *testing.T) {
	srv := gatewayServer(t, func(map[string]json.RawMessage) string {
		return `{"status":"failure","error":"too many open orders","error_code":2013}`
	})
	defer srv.Close()

	gateway := newTestGateway(t, wsURL(srv), nil)
	resp, err := gateway.WithdrawCollateral(context.Background(), &WithdrawCollateralRequest{
		Sender:    testAddr,
		ProductID: 0,
		Amount:    "100",
	})
	if err != nil {
		t.Fatalf("a gateway-level failure is not a transport error: %v", err)
	}
	if resp.Status != "failure" || resp.ErrorCode != 2013 {
		t.Errorf("failure not surfaced: %+v", resp)
	}
}

type memoryLog struct {
	entries []ExecuteLogEntry
}

func (m *memoryLog) Record(entry ExecuteLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func TestExecutesAreJournaled(t *testing.T) {
	srv := gatewayServer(t, func(map[string]json.RawMessage) string {
		return `{"status":"success"}`
	})
	defer srv.Close()

	journal := &memoryLog{}
	gateway := newTestGateway(t, wsURL(srv), journal)
	if _, err := gateway.BurnLp(context.Background(), &BurnLpRequest{
		Sender:    testAddr,
		ProductID: 3,
		Amount:    "1.5",
	}); err != nil {
		t.Fatalf("BurnLp: %v", err)
	}

	if len(journal.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(journal.entries))
	}
	entry := journal.entries[0]
	if entry.Method != "burn_lp" || entry.ProductID != 3 || entry.Nonce == 0 {
		t.Errorf("journal entry = %+v", entry)
	}
	if entry.SubmittedAt.IsZero() || time.Since(entry.SubmittedAt) > time.Minute {
		t.Errorf("implausible submit time %v", entry.SubmittedAt)
	}
}

func TestConnectionErrorOnDeadGateway(t *testing.T) {
	gateway := newTestGateway(t, "ws://127.0.0.1:1", nil)
	_, err := gateway.Status(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("error = %v, want *ConnectionError", err)
	}
}

// verifyWireSignature checks a gateway wire signature against the typed-data
// hash of txn under the given verifying contract.
func verifyWireSignature(t *testing.T, sig string, contract common.Address, txn tx.Transaction) {
	t.Helper()

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		t.Fatalf("malformed wire signature %q: %v", sig, err)
	}
	raw[64] -= 27

	domain, err := tx.NewDomain(contract.Hex(), testChainID)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	hash, err := tx.SigningHash(domain, txn)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}

	recovered, err := crypto.RecoverAddress(hash.Bytes(), raw)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if recovered != common.HexToAddress(testAddr) {
		t.Errorf("signature recovers to %s, want %s", recovered.Hex(), testAddr)
	}
}

func wireToOrder(t *testing.T, w tx.OrderWire) tx.Order {
	t.Helper()
	sender, err := tx.SubaccountFromHex(w.Sender)
	if err != nil {
		t.Fatalf("wire sender: %v", err)
	}
	exp, _ := strconv.ParseUint(w.Expiration, 10, 64)
	nonce, _ := strconv.ParseUint(w.Nonce, 10, 64)
	return tx.Order{
		Sender:     sender,
		PriceX18:   bigFromString(t, w.PriceX18),
		Amount:     bigFromString(t, w.Amount),
		Expiration: exp,
		Nonce:      nonce,
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
