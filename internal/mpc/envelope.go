package mpc

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"VeilPerp/internal/circuit"
)

// Sealed record layout: five fixed slots, one per position field. The slot
// order is wire-compatible between submit and callback and never reordered.
const (
	SlotSide = iota
	SlotSizeUSD
	SlotCollateral
	SlotEntryPrice
	SlotLeverage
	SlotCount
)

// SlotSize is the sealed width of one field: 16 bytes of padded plaintext
// plus the 16-byte Poly1305 tag.
const SlotSize = 32

// plaintextSize pads the 8-byte field value to a fixed block so every slot
// is indistinguishable by length.
const plaintextSize = 16

// SealedRecord is the ciphertext image of a position: five sealed slots
// bound to a record nonce.
type SealedRecord [SlotCount][SlotSize]byte

// SealedInput carries the confidential open parameters (side, size_usd,
// collateral, entry_price) sealed by the caller at the record's initial
// nonce. Slot indexes match the record layout. The entry-price slot is
// advisory: InitPosition discards it in favor of the oracle price.
type SealedInput [4][SlotSize]byte

// PositionKey addresses a position slot. Derived deterministically from
// owner, pool and custody; see state.DeriveKey.
type PositionKey [32]byte

func (k PositionKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k PositionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(k[:]))
}

func (k *PositionKey) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, k[:], "position key")
}

func (r SealedRecord) MarshalJSON() ([]byte, error) {
	flat := make([]byte, 0, SlotCount*SlotSize)
	for i := range r {
		flat = append(flat, r[i][:]...)
	}
	return json.Marshal(hex.EncodeToString(flat))
}

func (r *SealedRecord) UnmarshalJSON(data []byte) error {
	var flat [SlotCount * SlotSize]byte
	if err := unmarshalHex(data, flat[:], "sealed record"); err != nil {
		return err
	}
	for i := range r {
		copy(r[i][:], flat[i*SlotSize:(i+1)*SlotSize])
	}
	return nil
}

func (in SealedInput) MarshalJSON() ([]byte, error) {
	flat := make([]byte, 0, len(in)*SlotSize)
	for i := range in {
		flat = append(flat, in[i][:]...)
	}
	return json.Marshal(hex.EncodeToString(flat))
}

func (in *SealedInput) UnmarshalJSON(data []byte) error {
	var flat [4 * SlotSize]byte
	if err := unmarshalHex(data, flat[:], "sealed input"); err != nil {
		return err
	}
	for i := range in {
		copy(in[i][:], flat[i*SlotSize:(i+1)*SlotSize])
	}
	return nil
}

func unmarshalHex(data, dst []byte, what string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%s: got %d bytes, want %d", what, len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}

// Codec seals and opens position records with ChaCha20-Poly1305. The AEAD
// nonce for a slot is the 4-byte field index followed by the 8-byte record
// nonce, so a ciphertext opens only in the exact context it was sealed for:
// a stale or tampered slot fails authentication.
type Codec struct {
	aead cipher.AEAD
}

// KeySize is the cluster key length in bytes.
const KeySize = chacha20poly1305.KeySize

func NewCodec(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mpc codec: %w", err)
	}
	return &Codec{aead: aead}, nil
}

func slotNonce(index int, recordNonce uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint32(n[0:4], uint32(index))
	binary.LittleEndian.PutUint64(n[4:12], recordNonce)
	return n
}

func (c *Codec) sealSlot(index int, value, recordNonce uint64) [SlotSize]byte {
	var plaintext [plaintextSize]byte
	binary.LittleEndian.PutUint64(plaintext[:8], value)

	var out [SlotSize]byte
	c.aead.Seal(out[:0], slotNonce(index, recordNonce), plaintext[:], nil)
	return out
}

func (c *Codec) openSlot(index int, slot [SlotSize]byte, recordNonce uint64) (uint64, error) {
	plaintext, err := c.aead.Open(nil, slotNonce(index, recordNonce), slot[:], nil)
	if err != nil {
		return 0, fmt.Errorf("open slot %d: %w", index, err)
	}
	return binary.LittleEndian.Uint64(plaintext[:8]), nil
}

// Seal encrypts a full position state under the given record nonce.
func (c *Codec) Seal(state circuit.PositionState, recordNonce uint64) SealedRecord {
	var rec SealedRecord
	rec[SlotSide] = c.sealSlot(SlotSide, state.Side, recordNonce)
	rec[SlotSizeUSD] = c.sealSlot(SlotSizeUSD, state.SizeUSD, recordNonce)
	rec[SlotCollateral] = c.sealSlot(SlotCollateral, state.Collateral, recordNonce)
	rec[SlotEntryPrice] = c.sealSlot(SlotEntryPrice, state.EntryPrice, recordNonce)
	rec[SlotLeverage] = c.sealSlot(SlotLeverage, state.Leverage, recordNonce)
	return rec
}

// Open decrypts a sealed record. It fails if any slot was sealed under a
// different nonce or key, or has been tampered with.
func (c *Codec) Open(rec SealedRecord, recordNonce uint64) (circuit.PositionState, error) {
	var state circuit.PositionState
	var err error

	if state.Side, err = c.openSlot(SlotSide, rec[SlotSide], recordNonce); err != nil {
		return circuit.PositionState{}, err
	}
	if state.SizeUSD, err = c.openSlot(SlotSizeUSD, rec[SlotSizeUSD], recordNonce); err != nil {
		return circuit.PositionState{}, err
	}
	if state.Collateral, err = c.openSlot(SlotCollateral, rec[SlotCollateral], recordNonce); err != nil {
		return circuit.PositionState{}, err
	}
	if state.EntryPrice, err = c.openSlot(SlotEntryPrice, rec[SlotEntryPrice], recordNonce); err != nil {
		return circuit.PositionState{}, err
	}
	if state.Leverage, err = c.openSlot(SlotLeverage, rec[SlotLeverage], recordNonce); err != nil {
		return circuit.PositionState{}, err
	}
	return state, nil
}

// SealInput encrypts the confidential open parameters at the record's
// initial nonce. Used by callers preparing an open request.
func (c *Codec) SealInput(in circuit.OpenInput, recordNonce uint64) SealedInput {
	var sealed SealedInput
	sealed[SlotSide] = c.sealSlot(SlotSide, in.Side, recordNonce)
	sealed[SlotSizeUSD] = c.sealSlot(SlotSizeUSD, in.SizeUSD, recordNonce)
	sealed[SlotCollateral] = c.sealSlot(SlotCollateral, in.Collateral, recordNonce)
	sealed[SlotEntryPrice] = c.sealSlot(SlotEntryPrice, in.EntryPrice, recordNonce)
	return sealed
}

// OpenInput decrypts a sealed open input.
func (c *Codec) OpenInput(sealed SealedInput, recordNonce uint64) (circuit.OpenInput, error) {
	var in circuit.OpenInput
	var err error

	if in.Side, err = c.openSlot(SlotSide, sealed[SlotSide], recordNonce); err != nil {
		return circuit.OpenInput{}, err
	}
	if in.SizeUSD, err = c.openSlot(SlotSizeUSD, sealed[SlotSizeUSD], recordNonce); err != nil {
		return circuit.OpenInput{}, err
	}
	if in.Collateral, err = c.openSlot(SlotCollateral, sealed[SlotCollateral], recordNonce); err != nil {
		return circuit.OpenInput{}, err
	}
	if in.EntryPrice, err = c.openSlot(SlotEntryPrice, sealed[SlotEntryPrice], recordNonce); err != nil {
		return circuit.OpenInput{}, err
	}
	return in, nil
}

// NewRecordNonce draws the initial nonce for a fresh record. Every reseal
// afterwards increments by one, so a (nonce, slot) pair is never reused
// under the same key.
func NewRecordNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("record nonce: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
