package vertex

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Gaialynx/toadefi/pkg/crypto"
	"github.com/Gaialynx/toadefi/pkg/vertex/tx"
)

// PayloadSigner produces gateway-ready signature strings for structured
// transactions. Most payloads are signed against the exchange's fixed
// endpoint contract; orders are signed against the per-product book contract
// supplied by the caller.
type PayloadSigner struct {
	signer   *crypto.Signer
	chainID  uint64
	endpoint common.Address
}

// NewPayloadSigner parses the account private key and the endpoint contract
// address. Both failures are configuration defects, classified as SigningError.
func NewPayloadSigner(privateKeyHex, endpointContractHex string, chainID uint64) (*PayloadSigner, error) {
	signer, err := crypto.FromPrivateKeyHex(privateKeyHex)
	if err != nil {
		return nil, &SigningError{Op: "load private key", Err: err}
	}

	domain, err := tx.NewDomain(endpointContractHex, chainID)
	if err != nil {
		return nil, &SigningError{Op: "parse endpoint contract", Err: err}
	}

	return &PayloadSigner{
		signer:   signer,
		chainID:  chainID,
		endpoint: domain.VerifyingContract,
	}, nil
}

// Address returns the signing account's address.
func (p *PayloadSigner) Address() common.Address {
	return p.signer.Address()
}

// Sign signs txn against the endpoint contract domain.
func (p *PayloadSigner) Sign(txn tx.Transaction) (string, error) {
	return p.SignWith(p.endpoint, txn)
}

// SignWith signs txn against the given verifying contract. Returns the
// gateway wire form: "0x" + 130 hex chars, recovery id adjusted by +27.
func (p *PayloadSigner) SignWith(contract common.Address, txn tx.Transaction) (string, error) {
	domain := tx.Domain{
		ChainID:           new(big.Int).SetUint64(p.chainID),
		VerifyingContract: contract,
	}

	hash, err := tx.SigningHash(domain, txn)
	if err != nil {
		return "", &SigningError{Op: "typed-data hash", Err: err}
	}

	rawSig, err := p.signer.Sign(hash.Bytes())
	if err != nil {
		return "", &SigningError{Op: "ecdsa sign", Err: err}
	}

	encoded, err := crypto.EncodeSignature(rawSig)
	if err != nil {
		return "", &SigningError{Op: "encode signature", Err: err}
	}
	return encoded, nil
}
