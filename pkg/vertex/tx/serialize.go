package tx

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire forms mirror the gateway's JSON conventions: the sender as bare hex,
// numeric fields as decimal strings, digests as 0x-prefixed hex, and the
// camelCase renames the exchange expects (priceX18, productIds). These must
// stay in lockstep with the typed-data messages in tx.go: the signed bytes
// and the transmitted JSON represent the same logical values.

type StreamAuthenticationWire struct {
	Sender     string `json:"sender"`
	Expiration string `json:"expiration"`
}

// Wire returns the transport form of the authentication payload.
func (t StreamAuthentication) Wire() StreamAuthenticationWire {
	return StreamAuthenticationWire{
		Sender:     t.Sender.Hex(),
		Expiration: strconv.FormatUint(t.Expiration, 10),
	}
}

type OrderWire struct {
	Sender     string `json:"sender"`
	PriceX18   string `json:"priceX18"`
	Amount     string `json:"amount"`
	Expiration string `json:"expiration"`
	Nonce      string `json:"nonce"`
}

func (t Order) Wire() OrderWire {
	return OrderWire{
		Sender:     t.Sender.Hex(),
		PriceX18:   t.PriceX18.String(),
		Amount:     t.Amount.String(),
		Expiration: strconv.FormatUint(t.Expiration, 10),
		Nonce:      strconv.FormatUint(t.Nonce, 10),
	}
}

type CancellationWire struct {
	Sender     string   `json:"sender"`
	ProductIDs []uint32 `json:"productIds"`
	Digests    []string `json:"digests"`
	Nonce      string   `json:"nonce"`
}

func (t Cancellation) Wire() CancellationWire {
	digests := make([]string, len(t.Digests))
	for i, d := range t.Digests {
		digests[i] = hexutil.Encode(d[:])
	}
	return CancellationWire{
		Sender:     t.Sender.Hex(),
		ProductIDs: t.ProductIDs,
		Digests:    digests,
		Nonce:      strconv.FormatUint(t.Nonce, 10),
	}
}

type CancellationProductsWire struct {
	Sender     string   `json:"sender"`
	ProductIDs []uint32 `json:"productIds"`
	Nonce      string   `json:"nonce"`
}

func (t CancellationProducts) Wire() CancellationProductsWire {
	return CancellationProductsWire{
		Sender:     t.Sender.Hex(),
		ProductIDs: t.ProductIDs,
		Nonce:      strconv.FormatUint(t.Nonce, 10),
	}
}

type WithdrawCollateralWire struct {
	Sender    string `json:"sender"`
	ProductID uint32 `json:"productId"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
}

func (t WithdrawCollateral) Wire() WithdrawCollateralWire {
	return WithdrawCollateralWire{
		Sender:    t.Sender.Hex(),
		ProductID: t.ProductID,
		Amount:    t.Amount.String(),
		Nonce:     strconv.FormatUint(t.Nonce, 10),
	}
}

type LiquidateSubaccountWire struct {
	Sender          string `json:"sender"`
	Liquidatee      string `json:"liquidatee"`
	ProductID       uint32 `json:"productId"`
	IsEncodedSpread bool   `json:"isEncodedSpread"`
	Amount          string `json:"amount"`
	Nonce           string `json:"nonce"`
}

func (t LiquidateSubaccount) Wire() LiquidateSubaccountWire {
	return LiquidateSubaccountWire{
		Sender:          t.Sender.Hex(),
		Liquidatee:      t.Liquidatee.Hex(),
		ProductID:       t.ProductID,
		IsEncodedSpread: t.IsEncodedSpread,
		Amount:          t.Amount.String(),
		Nonce:           strconv.FormatUint(t.Nonce, 10),
	}
}

type MintLpWire struct {
	Sender          string `json:"sender"`
	ProductID       uint32 `json:"productId"`
	AmountBase      string `json:"amountBase"`
	QuoteAmountLow  string `json:"quoteAmountLow"`
	QuoteAmountHigh string `json:"quoteAmountHigh"`
	Nonce           string `json:"nonce"`
}

func (t MintLp) Wire() MintLpWire {
	return MintLpWire{
		Sender:          t.Sender.Hex(),
		ProductID:       t.ProductID,
		AmountBase:      t.AmountBase.String(),
		QuoteAmountLow:  t.QuoteAmountLow.String(),
		QuoteAmountHigh: t.QuoteAmountHigh.String(),
		Nonce:           strconv.FormatUint(t.Nonce, 10),
	}
}

type BurnLpWire struct {
	Sender    string `json:"sender"`
	ProductID uint32 `json:"productId"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
}

func (t BurnLp) Wire() BurnLpWire {
	return BurnLpWire{
		Sender:    t.Sender.Hex(),
		ProductID: t.ProductID,
		Amount:    t.Amount.String(),
		Nonce:     strconv.FormatUint(t.Nonce, 10),
	}
}

type LinkSignerWire struct {
	Sender string `json:"sender"`
	Signer string `json:"signer"`
	Nonce  string `json:"nonce"`
}

func (t LinkSigner) Wire() LinkSignerWire {
	return LinkSignerWire{
		Sender: t.Sender.Hex(),
		Signer: t.Signer.Hex(),
		Nonce:  strconv.FormatUint(t.Nonce, 10),
	}
}
