// Command sign-order signs a sample order offline and prints the gateway
// payload. Useful for verifying key material and signature encoding without
// touching the exchange.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Gaialynx/toadefi/pkg/util"
	"github.com/Gaialynx/toadefi/pkg/vertex"
	"github.com/Gaialynx/toadefi/pkg/vertex/tx"
)

func main() {
	var (
		keyHex     = flag.String("key", "", "hex private key (required)")
		contract   = flag.String("contract", "", "verifying contract address: the product's book contract (required)")
		chainID    = flag.Uint64("chain", 421613, "EIP-712 chain id")
		subaccount = flag.String("subaccount", "default", "subaccount name")
		price      = flag.String("price", "20000", "order price in human units")
		amount     = flag.String("amount", "0.1", "order amount in human units (negative to sell)")
		ttl        = flag.Uint64("ttl", vertex.DefaultOrderTTL, "order time-to-live in seconds")
		orderType  = flag.Uint("order-type", 0, "0=default 1=ioc 2=fok 3=post-only")
	)
	flag.Parse()

	if *keyHex == "" || *contract == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !common.IsHexAddress(*contract) {
		fatal("invalid contract address %q", *contract)
	}

	signer, err := vertex.NewPayloadSigner(*keyHex, *contract, *chainID)
	if err != nil {
		fatal("load key: %v", err)
	}

	sender, err := tx.NewSubaccount(signer.Address().Hex(), *subaccount)
	if err != nil {
		fatal("subaccount: %v", err)
	}

	clock := util.RealClock{}
	expiration, err := vertex.EncodeExpiration(clock, *ttl, uint8(*orderType))
	if err != nil {
		fatal("expiration: %v", err)
	}

	order := tx.Order{
		Sender:     sender,
		PriceX18:   mustX18(*price),
		Amount:     mustX18(*amount),
		Expiration: expiration,
		Nonce:      vertex.NewNonceSource(clock, 0).Next(),
	}

	signature, err := signer.SignWith(common.HexToAddress(*contract), order)
	if err != nil {
		fatal("sign: %v", err)
	}

	out := struct {
		Order     tx.OrderWire `json:"order"`
		Signature string       `json:"signature"`
		Signer    string       `json:"signer"`
		Deadline  string       `json:"deadline"`
	}{
		Order:     order.Wire(),
		Signature: signature,
		Signer:    signer.Address().Hex(),
		Deadline:  time.Unix(int64(vertex.DecodeDeadline(expiration)), 0).UTC().Format(time.RFC3339),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func mustX18(s string) *big.Int {
	d, err := decimal.NewFromString(s)
	if err != nil {
		fatal("invalid decimal %q: %v", s, err)
	}
	return d.Shift(18).Truncate(0).BigInt()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
