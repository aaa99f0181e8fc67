package vertex

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/Gaialynx/toadefi/pkg/util"
)

// Nonce layout: (unix_time_ms + skew) << 20 | low 20 bits. The low bits
// disambiguate same-millisecond calls; the exchange's accepted nonce window
// is not published, so both the skew and the low-bits mode are configurable.
const (
	nonceLowBits = 20
	nonceLowMask = (1 << nonceLowBits) - 1
)

// NonceSource produces strictly increasing nonces for one signing session.
type NonceSource struct {
	clock  util.Clock
	skewMS uint64

	mu       sync.Mutex
	last     uint64
	fixedLow uint32
	useFixed bool
}

// NewNonceSource returns a generator that fills the low 20 bits randomly.
func NewNonceSource(clock util.Clock, skewMS uint64) *NonceSource {
	return &NonceSource{clock: clock, skewMS: skewMS}
}

// NewFixedLowNonceSource returns a generator with a constant low field,
// matching deployments where the exchange expects a stable discriminator.
func NewFixedLowNonceSource(clock util.Clock, skewMS uint64, low uint32) *NonceSource {
	return &NonceSource{clock: clock, skewMS: skewMS, fixedLow: low & nonceLowMask, useFixed: true}
}

// Seed raises the monotonicity floor, e.g. from a persisted high-water mark,
// so nonces keep increasing across restarts.
func (n *NonceSource) Seed(last uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last > n.last {
		n.last = last
	}
}

// Next returns the next nonce. Values are strictly increasing: a clock that
// stands still or runs backwards bumps the previous nonce instead.
func (n *NonceSource) Next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	low := uint64(n.fixedLow)
	if !n.useFixed {
		low = uint64(rand.Intn(nonceLowMask + 1))
	}

	nonce := (uint64(n.clock.Now().UnixMilli())+n.skewMS)<<nonceLowBits | low
	if nonce <= n.last {
		nonce = n.last + 1
	}
	n.last = nonce
	return nonce
}

// Order types carried in the top two bits of an expiration value.
const (
	OrderTypeDefault uint8 = iota
	OrderTypeImmediateOrCancel
	OrderTypeFillOrKill
	OrderTypePostOnly
)

const deadlineMask = (1 << 62) - 1

// EncodeExpiration combines a deadline (now + ttl, unix seconds) with the
// order type in bits 62-63. Order types above 3 are rejected, not clamped.
func EncodeExpiration(clock util.Clock, ttlSeconds uint64, orderType uint8) (uint64, error) {
	if orderType > OrderTypePostOnly {
		return 0, &ProtocolError{Reason: fmt.Sprintf("order type %d out of range [0,3]", orderType)}
	}
	deadline := uint64(clock.Now().Unix()) + ttlSeconds
	return deadline&deadlineMask | uint64(orderType)<<62, nil
}

// DecodeOrderType extracts the order type bits from an expiration value.
func DecodeOrderType(expiration uint64) uint8 {
	return uint8(expiration >> 62)
}

// DecodeDeadline extracts the unix-seconds deadline from an expiration value.
func DecodeDeadline(expiration uint64) uint64 {
	return expiration & deadlineMask
}
