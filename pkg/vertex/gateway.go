package vertex

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/pkg/util"
	"github.com/Gaialynx/toadefi/pkg/vertex/tx"
	"github.com/Gaialynx/toadefi/pkg/ws"
)

// DefaultOrderTTL bounds order validity when the caller does not set one.
const DefaultOrderTTL = 1000 // seconds

// ExecuteLogEntry summarizes a submitted execute call for the journal.
type ExecuteLogEntry struct {
	Method      string
	ProductID   uint32
	Nonce       uint64
	Signature   string
	Status      string
	SubmittedAt time.Time
}

// ExecuteLog records submitted executes. Implemented by storage.Journal.
type ExecuteLog interface {
	Record(entry ExecuteLogEntry) error
}

// GatewayConfig configures the request/response client.
type GatewayConfig struct {
	URL              string
	ChainID          uint64
	EndpointContract string
	// CacheBookAddrs keeps resolved per-product book addresses for the
	// process lifetime. Off by default: a stale address would produce
	// signatures the exchange rejects.
	CacheBookAddrs bool
}

// GatewayClient performs one-shot request/response exchanges against the
// gateway: queries and signed trade executions. Every call opens its own
// connection and closes it; no pooling, no ordering across concurrent calls.
type GatewayClient struct {
	cfg     GatewayConfig
	signer  *PayloadSigner
	nonces  *NonceSource
	clock   util.Clock
	journal ExecuteLog
	log     *zap.Logger

	booksMu sync.RWMutex
	books   map[uint32]common.Address
}

// NewGatewayClient wires a request client. journal may be nil.
func NewGatewayClient(cfg GatewayConfig, signer *PayloadSigner, nonces *NonceSource, clock util.Clock, journal ExecuteLog, log *zap.Logger) *GatewayClient {
	return &GatewayClient{
		cfg:     cfg,
		signer:  signer,
		nonces:  nonces,
		clock:   clock,
		journal: journal,
		log:     log,
		books:   make(map[uint32]common.Address),
	}
}

// roundTrip opens a fresh connection, performs one send/receive exchange, and
// closes the connection. A single dial attempt; failures surface immediately.
func (g *GatewayClient) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	conn, err := ws.DialOnce(ctx, g.cfg.URL)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	defer conn.Close()

	reply, err := conn.SendAndReceiveOne(payload)
	if err != nil {
		return nil, &ConnectionError{Op: "exchange", Err: err}
	}
	return reply, nil
}

type queryRequest struct {
	Type string `json:"type"`
}

func (g *GatewayClient) query(ctx context.Context, queryType string) ([]byte, error) {
	switch queryType {
	case QueryStatus, QueryContracts, QueryAllProducts, QuerySymbols:
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported query type %q", queryType)}
	}

	payload, err := json.Marshal(queryRequest{Type: queryType})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize query: %v", err)}
	}
	return g.roundTrip(ctx, payload)
}

// Status queries the gateway's health summary.
func (g *GatewayClient) Status(ctx context.Context) (*StatusResponse, error) {
	raw, err := g.query(ctx, QueryStatus)
	if err != nil {
		return nil, err
	}
	var resp StatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	return &resp, nil
}

// Contracts queries chain id and contract addresses, including the
// per-product book addresses orders are signed against.
func (g *GatewayClient) Contracts(ctx context.Context) (*ContractsResponse, error) {
	raw, err := g.query(ctx, QueryContracts)
	if err != nil {
		return nil, err
	}
	var resp ContractsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	return &resp, nil
}

// Products queries the full product listing.
func (g *GatewayClient) Products(ctx context.Context) (*ProductsResponse, error) {
	raw, err := g.query(ctx, QueryAllProducts)
	if err != nil {
		return nil, err
	}
	var resp ProductsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	return &resp, nil
}

// Symbols queries the symbol listing.
func (g *GatewayClient) Symbols(ctx context.Context) (*SymbolsResponse, error) {
	raw, err := g.query(ctx, QuerySymbols)
	if err != nil {
		return nil, err
	}
	var resp SymbolsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	return &resp, nil
}

// BookAddress resolves the verifying contract for a product's order book.
// Signing cannot proceed without it; absence is a hard failure.
func (g *GatewayClient) BookAddress(ctx context.Context, productID uint32) (common.Address, error) {
	if g.cfg.CacheBookAddrs {
		g.booksMu.RLock()
		addr, ok := g.books[productID]
		g.booksMu.RUnlock()
		if ok {
			return addr, nil
		}
	}

	resp, err := g.Contracts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if resp.Data == nil {
		return common.Address{}, &DecodeError{Raw: resp.Status, Err: fmt.Errorf("contracts response has no data")}
	}
	if int(productID) >= len(resp.Data.BookAddrs) {
		return common.Address{}, &ProtocolError{Reason: fmt.Sprintf("no book address for product %d", productID)}
	}

	addrHex := resp.Data.BookAddrs[productID]
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, &DecodeError{Raw: addrHex, Err: fmt.Errorf("malformed book address for product %d", productID)}
	}
	addr := common.HexToAddress(addrHex)
	if addr == (common.Address{}) {
		return common.Address{}, &ProtocolError{Reason: fmt.Sprintf("product %d has no order book", productID)}
	}

	if g.cfg.CacheBookAddrs {
		g.booksMu.Lock()
		g.books[productID] = addr
		g.booksMu.Unlock()
	}
	return addr, nil
}

type placeOrderBody struct {
	ProductID uint32       `json:"product_id"`
	Order     tx.OrderWire `json:"order"`
	Signature string       `json:"signature"`
	ID        int64        `json:"id"`
}

type placeOrderEnvelope struct {
	PlaceOrder placeOrderBody `json:"place_order"`
}

// PlaceOrder signs and submits a limit order. The per-product book contract
// is resolved before signing.
func (g *GatewayClient) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*ExecuteResponse, error) {
	body, order, err := g.buildSignedOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(placeOrderEnvelope{PlaceOrder: *body})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize place_order: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("place_order", req.ProductID, order.Nonce, body.Signature, resp.Status)
	return resp, nil
}

func (g *GatewayClient) buildSignedOrder(ctx context.Context, req *PlaceOrderRequest) (*placeOrderBody, *tx.Order, error) {
	if req == nil || req.Order == nil {
		return nil, nil, &ProtocolError{Reason: "order is missing in the request"}
	}

	sender, err := tx.SubaccountFromHex(req.Order.Sender)
	if err != nil {
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}

	price, err := scaleX18(req.Order.Price)
	if err != nil {
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("invalid price: %v", err)}
	}
	amount, err := scaleX18(req.Order.Amount)
	if err != nil {
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("invalid amount: %v", err)}
	}

	ttl := req.TTLSeconds
	if ttl == 0 {
		ttl = DefaultOrderTTL
	}
	expiration, err := EncodeExpiration(g.clock, ttl, req.OrderType)
	if err != nil {
		return nil, nil, err
	}

	order := tx.Order{
		Sender:     sender,
		PriceX18:   price,
		Amount:     amount,
		Expiration: expiration,
		Nonce:      g.nonces.Next(),
	}

	book, err := g.BookAddress(ctx, req.ProductID)
	if err != nil {
		return nil, nil, err
	}

	signature, err := g.signer.SignWith(book, order)
	if err != nil {
		return nil, nil, err
	}

	return &placeOrderBody{
		ProductID: req.ProductID,
		Order:     order.Wire(),
		Signature: signature,
		ID:        req.ID,
	}, &order, nil
}

type cancelOrdersEnvelope struct {
	CancelOrders signedTx[tx.CancellationWire] `json:"cancel_orders"`
}

type cancelProductOrdersEnvelope struct {
	CancelProductOrders signedTx[tx.CancellationProductsWire] `json:"cancel_product_orders"`
}

type withdrawCollateralEnvelope struct {
	WithdrawCollateral signedTx[tx.WithdrawCollateralWire] `json:"withdraw_collateral"`
}

type mintLpEnvelope struct {
	MintLp signedTx[tx.MintLpWire] `json:"mint_lp"`
}

type burnLpEnvelope struct {
	BurnLp signedTx[tx.BurnLpWire] `json:"burn_lp"`
}

type linkSignerEnvelope struct {
	LinkSigner signedTx[tx.LinkSignerWire] `json:"link_signer"`
}

type signedTx[W any] struct {
	Tx        W      `json:"tx"`
	Signature string `json:"signature"`
}

// CancelOrders cancels specific resting orders by digest.
func (g *GatewayClient) CancelOrders(ctx context.Context, req *CancelOrdersRequest) (*ExecuteResponse, error) {
	txn, err := g.buildCancellation(req)
	if err != nil {
		return nil, err
	}

	signature, err := g.signer.Sign(*txn)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cancelOrdersEnvelope{
		CancelOrders: signedTx[tx.CancellationWire]{Tx: txn.Wire(), Signature: signature},
	})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize cancel_orders: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("cancel_orders", firstProduct(req.ProductIDs), txn.Nonce, signature, resp.Status)
	return resp, nil
}

func (g *GatewayClient) buildCancellation(req *CancelOrdersRequest) (*tx.Cancellation, error) {
	if req == nil {
		return nil, &ProtocolError{Reason: "cancellation is missing in the request"}
	}
	sender, err := tx.SubaccountFromHex(req.Sender)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}

	digests := make([]common.Hash, len(req.Digests))
	for i, d := range req.Digests {
		raw, err := parseHash32(d)
		if err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("invalid digest %q: %v", d, err)}
		}
		digests[i] = raw
	}

	return &tx.Cancellation{
		Sender:     sender,
		ProductIDs: req.ProductIDs,
		Digests:    digests,
		Nonce:      g.nonces.Next(),
	}, nil
}

// CancelProductOrders cancels every resting order on the given products.
func (g *GatewayClient) CancelProductOrders(ctx context.Context, req *CancelProductOrdersRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, &ProtocolError{Reason: "cancellation is missing in the request"}
	}
	sender, err := tx.SubaccountFromHex(req.Sender)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}

	txn := tx.CancellationProducts{
		Sender:     sender,
		ProductIDs: req.ProductIDs,
		Nonce:      g.nonces.Next(),
	}

	signature, err := g.signer.Sign(txn)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cancelProductOrdersEnvelope{
		CancelProductOrders: signedTx[tx.CancellationProductsWire]{Tx: txn.Wire(), Signature: signature},
	})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize cancel_product_orders: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("cancel_product_orders", firstProduct(req.ProductIDs), txn.Nonce, signature, resp.Status)
	return resp, nil
}

type cancelAndPlaceEnvelope struct {
	CancelAndPlace cancelAndPlaceBody `json:"cancel_and_place"`
}

type cancelAndPlaceBody struct {
	CancelTx        tx.CancellationWire `json:"cancel_tx"`
	CancelSignature string              `json:"cancel_signature"`
	PlaceOrder      placeOrderBody      `json:"place_order"`
}

// CancelAndPlace atomically replaces resting orders with a new one. The
// cancellation signs against the endpoint contract, the order against its
// product's book contract.
func (g *GatewayClient) CancelAndPlace(ctx context.Context, req *CancelAndPlaceRequest) (*ExecuteResponse, error) {
	if req == nil || req.Cancel == nil {
		return nil, &ProtocolError{Reason: "cancellation is missing in the request"}
	}
	if req.Place == nil {
		return nil, &ProtocolError{Reason: "order is missing in the request"}
	}

	cancelTxn, err := g.buildCancellation(req.Cancel)
	if err != nil {
		return nil, err
	}
	cancelSig, err := g.signer.Sign(*cancelTxn)
	if err != nil {
		return nil, err
	}

	orderBody, order, err := g.buildSignedOrder(ctx, req.Place)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cancelAndPlaceEnvelope{CancelAndPlace: cancelAndPlaceBody{
		CancelTx:        cancelTxn.Wire(),
		CancelSignature: cancelSig,
		PlaceOrder:      *orderBody,
	}})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize cancel_and_place: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("cancel_and_place", req.Place.ProductID, order.Nonce, orderBody.Signature, resp.Status)
	return resp, nil
}

// WithdrawCollateral signs and submits a collateral withdrawal.
func (g *GatewayClient) WithdrawCollateral(ctx context.Context, req *WithdrawCollateralRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, &ProtocolError{Reason: "withdrawal is missing in the request"}
	}
	sender, err := tx.SubaccountFromHex(req.Sender)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}
	amount, err := scaleX18(req.Amount)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid amount: %v", err)}
	}

	txn := tx.WithdrawCollateral{
		Sender:    sender,
		ProductID: req.ProductID,
		Amount:    amount,
		Nonce:     g.nonces.Next(),
	}
	signature, err := g.signer.Sign(txn)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(withdrawCollateralEnvelope{
		WithdrawCollateral: signedTx[tx.WithdrawCollateralWire]{Tx: txn.Wire(), Signature: signature},
	})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize withdraw_collateral: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("withdraw_collateral", req.ProductID, txn.Nonce, signature, resp.Status)
	return resp, nil
}

// MintLp signs and submits an LP mint.
func (g *GatewayClient) MintLp(ctx context.Context, req *MintLpRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, &ProtocolError{Reason: "mint is missing in the request"}
	}
	sender, err := tx.SubaccountFromHex(req.Sender)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}
	amountBase, err := scaleX18(req.AmountBase)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid amount_base: %v", err)}
	}
	quoteLow, err := scaleX18(req.QuoteAmountLow)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid quote_amount_low: %v", err)}
	}
	quoteHigh, err := scaleX18(req.QuoteAmountHigh)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid quote_amount_high: %v", err)}
	}

	txn := tx.MintLp{
		Sender:          sender,
		ProductID:       req.ProductID,
		AmountBase:      amountBase,
		QuoteAmountLow:  quoteLow,
		QuoteAmountHigh: quoteHigh,
		Nonce:           g.nonces.Next(),
	}
	signature, err := g.signer.Sign(txn)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(mintLpEnvelope{
		MintLp: signedTx[tx.MintLpWire]{Tx: txn.Wire(), Signature: signature},
	})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize mint_lp: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("mint_lp", req.ProductID, txn.Nonce, signature, resp.Status)
	return resp, nil
}

// BurnLp signs and submits an LP burn.
func (g *GatewayClient) BurnLp(ctx context.Context, req *BurnLpRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, &ProtocolError{Reason: "burn is missing in the request"}
	}
	sender, err := tx.SubaccountFromHex(req.Sender)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}
	amount, err := scaleX18(req.Amount)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid amount: %v", err)}
	}

	txn := tx.BurnLp{
		Sender:    sender,
		ProductID: req.ProductID,
		Amount:    amount,
		Nonce:     g.nonces.Next(),
	}
	signature, err := g.signer.Sign(txn)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(burnLpEnvelope{
		BurnLp: signedTx[tx.BurnLpWire]{Tx: txn.Wire(), Signature: signature},
	})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize burn_lp: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("burn_lp", req.ProductID, txn.Nonce, signature, resp.Status)
	return resp, nil
}

// LinkSigner authorizes a delegate signing key for the subaccount.
func (g *GatewayClient) LinkSigner(ctx context.Context, req *LinkSignerRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, &ProtocolError{Reason: "link request is missing"}
	}
	sender, err := tx.SubaccountFromHex(req.Sender)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid sender: %v", err)}
	}
	delegate, err := tx.SubaccountFromHex(req.Signer)
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid signer: %v", err)}
	}

	txn := tx.LinkSigner{
		Sender: sender,
		Signer: delegate,
		Nonce:  g.nonces.Next(),
	}
	signature, err := g.signer.Sign(txn)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(linkSignerEnvelope{
		LinkSigner: signedTx[tx.LinkSignerWire]{Tx: txn.Wire(), Signature: signature},
	})
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialize link_signer: %v", err)}
	}

	resp, err := g.execute(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.record("link_signer", 0, txn.Nonce, signature, resp.Status)
	return resp, nil
}

func (g *GatewayClient) execute(ctx context.Context, payload []byte) (*ExecuteResponse, error) {
	raw, err := g.roundTrip(ctx, payload)
	if err != nil {
		return nil, err
	}
	var resp ExecuteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DecodeError{Raw: string(raw), Err: err}
	}
	if resp.Status == "failure" {
		g.log.Warn("gateway rejected execute",
			zap.String("error", resp.Error),
			zap.Int("code", resp.ErrorCode))
	}
	return &resp, nil
}

func (g *GatewayClient) record(method string, productID uint32, nonce uint64, signature, status string) {
	if g.journal == nil {
		return
	}
	entry := ExecuteLogEntry{
		Method:      method,
		ProductID:   productID,
		Nonce:       nonce,
		Signature:   signature,
		Status:      status,
		SubmittedAt: g.clock.Now(),
	}
	if err := g.journal.Record(entry); err != nil {
		g.log.Warn("failed to journal execute", zap.String("method", method), zap.Error(err))
	}
}

// scaleX18 converts a human-unit decimal string into the exchange's
// 1e18 fixed-point integer representation.
func scaleX18(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}

func parseHash32(s string) (common.Hash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("digest must be 32 bytes, got %d", len(raw))
	}
	return common.BytesToHash(raw), nil
}

func firstProduct(ids []uint32) uint32 {
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}
