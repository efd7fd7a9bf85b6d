package domain

// SpeedMode is a named tier controlling priority-fee caps and broadcast
// aggressiveness.
type SpeedMode string

// SpeedMode values.
const (
	SpeedNormal SpeedMode = "normal"
	SpeedFast   SpeedMode = "fast"
	SpeedTurbo  SpeedMode = "turbo"
)

// Valid reports whether the mode is one of the known tiers.
func (m SpeedMode) Valid() bool {
	switch m {
	case SpeedNormal, SpeedFast, SpeedTurbo:
		return true
	}
	return false
}

// UnsignedTransaction is a built, not-yet-signed transaction. The serialized
// bytes are never mutated after construction: patching serialized bytes can
// corrupt embedded signature slots, so any change requires a fresh build.
type UnsignedTransaction struct {
	raw []byte

	Route                Route
	LastValidBlockHeight uint64
	PriorityFeeApplied   uint64 // lamports
	FeeAccount           string // platform fee token account, if applied
	FallbackReason       string // set when the build fell back from another route
	FeeOmitted           bool   // fee account dropped after a fee-account build error
}

// NewUnsignedTransaction copies raw into an immutable transaction value.
func NewUnsignedTransaction(raw []byte, route Route) UnsignedTransaction {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return UnsignedTransaction{raw: buf, Route: route}
}

// Bytes returns a copy of the serialized transaction.
func (t UnsignedTransaction) Bytes() []byte {
	buf := make([]byte, len(t.raw))
	copy(buf, t.raw)
	return buf
}

// IsEmpty reports whether the transaction holds no bytes.
func (t UnsignedTransaction) IsEmpty() bool { return len(t.raw) == 0 }

// ValidAtHeight reports whether the transaction may still land when the
// chain is at blockHeight. Past the window it must be rebuilt, not resent.
func (t UnsignedTransaction) ValidAtHeight(blockHeight uint64) bool {
	return t.LastValidBlockHeight == 0 || blockHeight <= t.LastValidBlockHeight
}
