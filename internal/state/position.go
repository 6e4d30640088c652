package state

import (
	"crypto/sha256"
	"time"

	"github.com/google/uuid"

	"VeilPerp/internal/mpc"
)

// Status tracks the position lifecycle. A record is Pending from open
// submission until the init callback lands, Active while tradeable, and
// terminal once closed or liquidated.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusPending
	StatusActive
	StatusClosed
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "Uninitialized"
	case StatusPending:
		return "Pending"
	case StatusActive:
		return "Active"
	case StatusClosed:
		return "Closed"
	case StatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusUninitialized: {
			StatusPending,
		},
		StatusPending: {
			StatusActive,
			StatusClosed, // failed init refunds and closes the slot
		},
		StatusActive: {
			StatusActive, // collateral updates
			StatusClosed,
			StatusLiquidated,
		},
		// Closed and Liquidated are terminal
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedStatus := range allowed {
		if next == allowedStatus {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the record can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusLiquidated
}

// PositionRecord is one encrypted position: sealed payload, the nonce the
// payload is bound to, and the plaintext metadata the ledger is allowed
// to see.
type PositionRecord struct {
	Key               mpc.PositionKey
	Owner             uuid.UUID
	Pool              string
	Custody           string
	CollateralCustody string

	Sealed mpc.SealedRecord
	Nonce  uint64

	Status Status

	// Busy guards the nonce: at most one in-flight mutating request per
	// position. Set at submit, cleared by the matching callback.
	Busy bool

	// LockedCollateral shadows the cumulative plaintext collateral
	// transfers for this position, in tokens 10^6. Drives unlock and
	// custody re-accounting at settlement; reveals nothing the transfer
	// log does not already show.
	LockedCollateral uint64

	OpenTime   time.Time
	UpdateTime time.Time
}

// DeriveKey computes the deterministic slot for (owner, pool, custody).
// Length-prefixing keeps distinct triples from colliding.
func DeriveKey(owner uuid.UUID, pool, custody string) mpc.PositionKey {
	h := sha256.New()
	h.Write(owner[:])
	h.Write([]byte{byte(len(pool))})
	h.Write([]byte(pool))
	h.Write([]byte{byte(len(custody))})
	h.Write([]byte(custody))

	var key mpc.PositionKey
	copy(key[:], h.Sum(nil))
	return key
}

// CanonicalBytes returns a deterministic serialization of everything that
// defines the record. A rejected callback must leave this byte-for-byte
// unchanged.
func (p *PositionRecord) CanonicalBytes() []byte {
	buf := make([]byte, 0, 320)

	buf = append(buf, p.Key[:]...)
	buf = append(buf, p.Owner[:]...)

	buf = append(buf, byte(len(p.Pool)))
	buf = append(buf, []byte(p.Pool)...)
	buf = append(buf, byte(len(p.Custody)))
	buf = append(buf, []byte(p.Custody)...)
	buf = append(buf, byte(len(p.CollateralCustody)))
	buf = append(buf, []byte(p.CollateralCustody)...)

	for i := range p.Sealed {
		buf = append(buf, p.Sealed[i][:]...)
	}
	buf = appendUint64LE(buf, p.Nonce)

	buf = append(buf, byte(p.Status))
	if p.Busy {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64LE(buf, p.LockedCollateral)

	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
