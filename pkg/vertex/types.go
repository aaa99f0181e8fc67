package vertex

import "encoding/json"

// Query types the gateway accepts.
const (
	QueryStatus      = "status"
	QueryContracts   = "contracts"
	QueryAllProducts = "all_products"
	QuerySymbols     = "symbols"
)

// OrderRequest carries caller-facing order fields. Price and Amount are
// decimal strings in human units; the client scales them by 1e18 before
// signing. A negative amount is a sell.
type OrderRequest struct {
	Sender string `json:"sender"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type PlaceOrderRequest struct {
	ProductID  uint32        `json:"product_id"`
	Order      *OrderRequest `json:"order"`
	OrderType  uint8         `json:"order_type"`
	TTLSeconds uint64        `json:"ttl_seconds"`
	ID         int64         `json:"id"`
}

type CancelOrdersRequest struct {
	Sender     string   `json:"sender"`
	ProductIDs []uint32 `json:"product_ids"`
	Digests    []string `json:"digests"`
}

type CancelProductOrdersRequest struct {
	Sender     string   `json:"sender"`
	ProductIDs []uint32 `json:"product_ids"`
}

type CancelAndPlaceRequest struct {
	Cancel *CancelOrdersRequest `json:"cancel_order_request"`
	Place  *PlaceOrderRequest   `json:"place_order_request"`
}

type WithdrawCollateralRequest struct {
	Sender    string `json:"sender"`
	ProductID uint32 `json:"product_id"`
	Amount    string `json:"amount"`
}

type MintLpRequest struct {
	Sender          string `json:"sender"`
	ProductID       uint32 `json:"product_id"`
	AmountBase      string `json:"amount_base"`
	QuoteAmountLow  string `json:"quote_amount_low"`
	QuoteAmountHigh string `json:"quote_amount_high"`
}

type BurnLpRequest struct {
	Sender    string `json:"sender"`
	ProductID uint32 `json:"product_id"`
	Amount    string `json:"amount"`
}

type LinkSignerRequest struct {
	Sender string `json:"sender"`
	Signer string `json:"signer"`
}

// StatusResponse is the gateway's reply to a status query, returned to the
// caller unchanged in structure.
type StatusResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ContractsData lists the chain and contract addresses the exchange signs
// against. BookAddrs is indexed by product id.
type ContractsData struct {
	ChainID      string   `json:"chain_id"`
	EndpointAddr string   `json:"endpoint_addr"`
	BookAddrs    []string `json:"book_addrs"`
}

type ContractsResponse struct {
	Status string         `json:"status"`
	Data   *ContractsData `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type ProductsResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type SymbolsResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ExecuteResponse is the gateway's reply to a trade-execution call. A
// "failure" status is surfaced to the caller in this structure, never
// swallowed.
type ExecuteResponse struct {
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	RequestType string          `json:"request_type,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}
