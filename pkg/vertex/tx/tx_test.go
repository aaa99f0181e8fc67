package tx

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const (
	testAddr     = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

func mustSubaccount(t *testing.T, name string) Subaccount {
	t.Helper()
	sub, err := NewSubaccount(testAddr, name)
	if err != nil {
		t.Fatalf("NewSubaccount: %v", err)
	}
	return sub
}

func mustDomain(t *testing.T, contract string) Domain {
	t.Helper()
	d, err := NewDomain(contract, 421613)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	return d
}

func TestNewSubaccount(t *testing.T) {
	sub := mustSubaccount(t, "")
	if got := sub.Name(); got != DefaultSubaccountName {
		t.Errorf("empty name maps to %q, want %q", got, DefaultSubaccountName)
	}
	if got := sub.Address().Hex(); got != testAddr {
		t.Errorf("address = %s, want %s", got, testAddr)
	}

	named := mustSubaccount(t, "mm-bot")
	if got := named.Name(); got != "mm-bot" {
		t.Errorf("name = %q, want %q", got, "mm-bot")
	}

	if _, err := NewSubaccount(testAddr, "thirteen-chars"); err == nil {
		t.Error("expected error for name over 12 bytes")
	}
	if _, err := NewSubaccount("0x1234", ""); err == nil {
		t.Error("expected error for short address")
	}
}

func TestSubaccountHex(t *testing.T) {
	sub := mustSubaccount(t, "")
	h := sub.Hex()
	if strings.HasPrefix(h, "0x") {
		t.Errorf("wire sender must not carry a 0x prefix: %s", h)
	}
	if len(h) != 64 {
		t.Errorf("wire sender length = %d, want 64", len(h))
	}
	if !strings.HasPrefix(strings.ToLower(h), strings.ToLower(testAddr[2:])) {
		t.Errorf("wire sender does not start with the account address: %s", h)
	}
}

func TestSubaccountFromHex(t *testing.T) {
	// 20-byte input gets the default tag.
	sub, err := SubaccountFromHex(testAddr)
	if err != nil {
		t.Fatalf("SubaccountFromHex(20 bytes): %v", err)
	}
	if sub.Name() != DefaultSubaccountName {
		t.Errorf("name = %q, want %q", sub.Name(), DefaultSubaccountName)
	}

	// 32-byte input round-trips verbatim.
	full := mustSubaccount(t, "mm-bot")
	parsed, err := SubaccountFromHex(full.Hex())
	if err != nil {
		t.Fatalf("SubaccountFromHex(32 bytes): %v", err)
	}
	if parsed != full {
		t.Errorf("round-trip mismatch: %s vs %s", parsed.Hex(), full.Hex())
	}

	if _, err := SubaccountFromHex("0x0102030405"); err == nil {
		t.Error("expected error for 5-byte sender")
	}
}

func TestNewDomainRejectsBadContract(t *testing.T) {
	if _, err := NewDomain("0x1234", 1); err == nil {
		t.Error("expected error for short contract address")
	}
	if _, err := NewDomain("not-an-address", 1); err == nil {
		t.Error("expected error for non-hex contract address")
	}
}

func TestSigningHashDeterministic(t *testing.T) {
	d := mustDomain(t, testContract)
	order := Order{
		Sender:     mustSubaccount(t, ""),
		PriceX18:   new(big.Int).Mul(big.NewInt(20_000), big.NewInt(1e18)),
		Amount:     big.NewInt(1e17),
		Expiration: 1_700_000_000,
		Nonce:      42,
	}

	h1, err := SigningHash(d, order)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}
	h2, err := SigningHash(d, order)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}
	if h1 != h2 {
		t.Error("same transaction hashed to different values")
	}

	bumped := order
	bumped.Nonce = 43
	h3, err := SigningHash(d, bumped)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}
	if h1 == h3 {
		t.Error("different nonces hashed to the same value")
	}
}

func TestSigningHashBindsDomain(t *testing.T) {
	auth := StreamAuthentication{
		Sender:     mustSubaccount(t, ""),
		Expiration: 1_700_000_000_000,
	}

	h1, err := SigningHash(mustDomain(t, testContract), auth)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}
	h2, err := SigningHash(mustDomain(t, testAddr), auth)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}
	if h1 == h2 {
		t.Error("hashes under different verifying contracts must differ")
	}

	other := Domain{ChainID: big.NewInt(1), VerifyingContract: common.HexToAddress(testContract)}
	h3, err := SigningHash(other, auth)
	if err != nil {
		t.Fatalf("SigningHash: %v", err)
	}
	if h1 == h3 {
		t.Error("hashes under different chain ids must differ")
	}
}

func TestSigningHashAllVariants(t *testing.T) {
	d := mustDomain(t, testContract)
	sender := mustSubaccount(t, "")
	amount := big.NewInt(5e18)

	txns := []Transaction{
		StreamAuthentication{Sender: sender, Expiration: 1_700_000_000_000},
		Order{Sender: sender, PriceX18: amount, Amount: amount, Expiration: 1, Nonce: 1},
		Cancellation{Sender: sender, ProductIDs: []uint32{1, 2}, Digests: []common.Hash{{0x01}}, Nonce: 2},
		CancellationProducts{Sender: sender, ProductIDs: []uint32{1}, Nonce: 3},
		WithdrawCollateral{Sender: sender, ProductID: 0, Amount: amount, Nonce: 4},
		LiquidateSubaccount{Sender: sender, Liquidatee: sender, ProductID: 1, Amount: amount, Nonce: 5},
		MintLp{Sender: sender, ProductID: 3, AmountBase: amount, QuoteAmountLow: amount, QuoteAmountHigh: amount, Nonce: 6},
		BurnLp{Sender: sender, ProductID: 3, Amount: amount, Nonce: 7},
		LinkSigner{Sender: sender, Signer: sender, Nonce: 8},
	}

	seen := make(map[common.Hash]string)
	for _, txn := range txns {
		h, err := SigningHash(d, txn)
		if err != nil {
			t.Fatalf("SigningHash(%s): %v", txn.primaryType(), err)
		}
		if prev, dup := seen[h]; dup {
			t.Errorf("%s and %s hashed to the same value", txn.primaryType(), prev)
		}
		seen[h] = txn.primaryType()
	}
}

func TestOrderWire(t *testing.T) {
	price, _ := new(big.Int).SetString("20000000000000000000000", 10)
	order := Order{
		Sender:     mustSubaccount(t, ""),
		PriceX18:   price,
		Amount:     big.NewInt(-1e17),
		Expiration: 12345,
		Nonce:      99,
	}

	data, err := json.Marshal(order.Wire())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["priceX18"] != "20000000000000000000000" {
		t.Errorf("priceX18 = %q", fields["priceX18"])
	}
	if fields["amount"] != "-100000000000000000" {
		t.Errorf("amount = %q", fields["amount"])
	}
	if fields["expiration"] != "12345" || fields["nonce"] != "99" {
		t.Errorf("expiration/nonce = %q/%q", fields["expiration"], fields["nonce"])
	}
	if strings.HasPrefix(fields["sender"], "0x") {
		t.Errorf("wire sender carries 0x prefix: %s", fields["sender"])
	}
}

func TestCancellationWire(t *testing.T) {
	c := Cancellation{
		Sender:     mustSubaccount(t, ""),
		ProductIDs: []uint32{1, 2},
		Digests:    []common.Hash{common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")},
		Nonce:      7,
	}

	wire := c.Wire()
	if len(wire.Digests) != 1 || !strings.HasPrefix(wire.Digests[0], "0x") {
		t.Errorf("digests must be 0x-prefixed hex: %v", wire.Digests)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"productIds":[1,2]`) {
		t.Errorf("productIds not camelCase array: %s", data)
	}
}
