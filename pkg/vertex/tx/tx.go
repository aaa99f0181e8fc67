// Package tx defines the structured transactions accepted by the Vertex
// gateway and their EIP-712 hashing. The type signatures here must match the
// exchange's published schema bit-for-bit: a mismatch yields a well-formed
// but cryptographically wrong signature.
package tx

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain constants fixed by the exchange's protocol version.
const (
	DomainName    = "Vertex"
	DomainVersion = "0.0.1"
)

// Domain binds a signature to a chain and verifying contract. The contract
// differs by transaction type: the fixed endpoint contract for most payloads,
// the per-product book contract for orders. Immutable once constructed.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain decodes a hex contract address, validates it is exactly 20 bytes,
// and returns a domain with the exchange's fixed name/version constants.
func NewDomain(contractHex string, chainID uint64) (Domain, error) {
	if !common.IsHexAddress(contractHex) {
		return Domain{}, fmt.Errorf("invalid verifying contract address: %q", contractHex)
	}
	return Domain{
		ChainID:           new(big.Int).SetUint64(chainID),
		VerifyingContract: common.HexToAddress(contractHex),
	}, nil
}

func (d Domain) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

var eip712DomainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Transaction is the closed set of gateway payloads eligible for EIP-712
// signing. Each variant carries its own type signature and field encoding.
type Transaction interface {
	primaryType() string
	typeDef() []apitypes.Type
	message() apitypes.TypedDataMessage
}

// SigningHash computes the exchange's typed-data hash for txn under domain:
// keccak256("\x19\x01" || domainSeparator || hashStruct(txn)).
func SigningHash(d Domain, txn Transaction) (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    eip712DomainType,
			txn.primaryType(): txn.typeDef(),
		},
		PrimaryType: txn.primaryType(),
		Domain:      d.typedDomain(),
		Message:     txn.message(),
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}

// StreamAuthentication authorizes the long-lived subscription stream.
type StreamAuthentication struct {
	Sender     Subaccount
	Expiration uint64 // unix milliseconds
}

func (t StreamAuthentication) primaryType() string { return "StreamAuthentication" }

func (t StreamAuthentication) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "expiration", Type: "uint64"},
	}
}

func (t StreamAuthentication) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender":     hexutil.Encode(t.Sender[:]),
		"expiration": new(big.Int).SetUint64(t.Expiration).String(),
	}
}

// Order is a limit order. PriceX18 and Amount are fixed-point values scaled
// by 1e18; Expiration carries the order type in its top two bits.
type Order struct {
	Sender     Subaccount
	PriceX18   *big.Int
	Amount     *big.Int
	Expiration uint64
	Nonce      uint64
}

func (t Order) primaryType() string { return "Order" }

func (t Order) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "priceX18", Type: "int128"},
		{Name: "amount", Type: "int128"},
		{Name: "expiration", Type: "uint64"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t Order) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender":     hexutil.Encode(t.Sender[:]),
		"priceX18":   t.PriceX18.String(),
		"amount":     t.Amount.String(),
		"expiration": new(big.Int).SetUint64(t.Expiration).String(),
		"nonce":      new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// Cancellation cancels specific resting orders by digest.
type Cancellation struct {
	Sender     Subaccount
	ProductIDs []uint32
	Digests    []common.Hash
	Nonce      uint64
}

func (t Cancellation) primaryType() string { return "Cancellation" }

func (t Cancellation) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "productIds", Type: "uint32[]"},
		{Name: "digests", Type: "bytes32[]"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t Cancellation) message() apitypes.TypedDataMessage {
	ids := make([]interface{}, len(t.ProductIDs))
	for i, id := range t.ProductIDs {
		ids[i] = new(big.Int).SetUint64(uint64(id)).String()
	}
	digests := make([]interface{}, len(t.Digests))
	for i, d := range t.Digests {
		digests[i] = hexutil.Encode(d[:])
	}
	return apitypes.TypedDataMessage{
		"sender":     hexutil.Encode(t.Sender[:]),
		"productIds": ids,
		"digests":    digests,
		"nonce":      new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// CancellationProducts cancels every resting order on the given products.
type CancellationProducts struct {
	Sender     Subaccount
	ProductIDs []uint32
	Nonce      uint64
}

func (t CancellationProducts) primaryType() string { return "CancellationProducts" }

func (t CancellationProducts) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "productIds", Type: "uint32[]"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t CancellationProducts) message() apitypes.TypedDataMessage {
	ids := make([]interface{}, len(t.ProductIDs))
	for i, id := range t.ProductIDs {
		ids[i] = new(big.Int).SetUint64(uint64(id)).String()
	}
	return apitypes.TypedDataMessage{
		"sender":     hexutil.Encode(t.Sender[:]),
		"productIds": ids,
		"nonce":      new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// WithdrawCollateral moves collateral out of the subaccount.
type WithdrawCollateral struct {
	Sender    Subaccount
	ProductID uint32
	Amount    *big.Int
	Nonce     uint64
}

func (t WithdrawCollateral) primaryType() string { return "WithdrawCollateral" }

func (t WithdrawCollateral) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "productId", Type: "uint32"},
		{Name: "amount", Type: "uint128"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t WithdrawCollateral) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender":    hexutil.Encode(t.Sender[:]),
		"productId": new(big.Int).SetUint64(uint64(t.ProductID)).String(),
		"amount":    t.Amount.String(),
		"nonce":     new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// LiquidateSubaccount liquidates an undercollateralized subaccount.
type LiquidateSubaccount struct {
	Sender          Subaccount
	Liquidatee      Subaccount
	ProductID       uint32
	IsEncodedSpread bool
	Amount          *big.Int
	Nonce           uint64
}

func (t LiquidateSubaccount) primaryType() string { return "LiquidateSubaccount" }

func (t LiquidateSubaccount) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "liquidatee", Type: "bytes32"},
		{Name: "productId", Type: "uint32"},
		{Name: "isEncodedSpread", Type: "bool"},
		{Name: "amount", Type: "int128"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t LiquidateSubaccount) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender":          hexutil.Encode(t.Sender[:]),
		"liquidatee":      hexutil.Encode(t.Liquidatee[:]),
		"productId":       new(big.Int).SetUint64(uint64(t.ProductID)).String(),
		"isEncodedSpread": t.IsEncodedSpread,
		"amount":          t.Amount.String(),
		"nonce":           new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// MintLp provides liquidity to a product's LP pool.
type MintLp struct {
	Sender          Subaccount
	ProductID       uint32
	AmountBase      *big.Int
	QuoteAmountLow  *big.Int
	QuoteAmountHigh *big.Int
	Nonce           uint64
}

func (t MintLp) primaryType() string { return "MintLp" }

func (t MintLp) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "productId", Type: "uint32"},
		{Name: "amountBase", Type: "uint128"},
		{Name: "quoteAmountLow", Type: "uint128"},
		{Name: "quoteAmountHigh", Type: "uint128"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t MintLp) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender":          hexutil.Encode(t.Sender[:]),
		"productId":       new(big.Int).SetUint64(uint64(t.ProductID)).String(),
		"amountBase":      t.AmountBase.String(),
		"quoteAmountLow":  t.QuoteAmountLow.String(),
		"quoteAmountHigh": t.QuoteAmountHigh.String(),
		"nonce":           new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// BurnLp removes liquidity from a product's LP pool.
type BurnLp struct {
	Sender    Subaccount
	ProductID uint32
	Amount    *big.Int
	Nonce     uint64
}

func (t BurnLp) primaryType() string { return "BurnLp" }

func (t BurnLp) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "productId", Type: "uint32"},
		{Name: "amount", Type: "uint128"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t BurnLp) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender":    hexutil.Encode(t.Sender[:]),
		"productId": new(big.Int).SetUint64(uint64(t.ProductID)).String(),
		"amount":    t.Amount.String(),
		"nonce":     new(big.Int).SetUint64(t.Nonce).String(),
	}
}

// LinkSigner authorizes a delegate key to sign for the subaccount.
type LinkSigner struct {
	Sender Subaccount
	Signer Subaccount
	Nonce  uint64
}

func (t LinkSigner) primaryType() string { return "LinkSigner" }

func (t LinkSigner) typeDef() []apitypes.Type {
	return []apitypes.Type{
		{Name: "sender", Type: "bytes32"},
		{Name: "signer", Type: "bytes32"},
		{Name: "nonce", Type: "uint64"},
	}
}

func (t LinkSigner) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sender": hexutil.Encode(t.Sender[:]),
		"signer": hexutil.Encode(t.Signer[:]),
		"nonce":  new(big.Int).SetUint64(t.Nonce).String(),
	}
}
