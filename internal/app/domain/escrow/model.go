// Package escrow defines the custodial escrow record and the pure state
// predicates the operation layer uses as guards. Nothing in this package
// performs I/O; timestamps are supplied by the caller as unix seconds.
package escrow

import (
	"encoding/hex"
	"fmt"
)

// Identity is a 32-byte caller or asset identity. The zero value is the null
// identity and never names a real party.
type Identity [32]byte

// ParseIdentity decodes a 64-character hex string.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("identity %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return Identity{}, fmt.Errorf("identity %q: need %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// IsZero reports whether the identity is the null identity.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// String renders the identity as lowercase hex.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler so identities render as hex
// in JSON payloads.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Flags packs the record's derived-state booleans into one byte. The
// authority bits always mirror "authority identity is non-null" and are only
// toggled together with the identity fields.
type Flags uint8

const (
	FlagPlatformActive Flags = 1 << 0
	FlagTradingActive  Flags = 1 << 1
	FlagPaused         Flags = 1 << 2
)

// SchemaVersion is stamped on every record so the persisted layout can grow
// without a migration of existing rows.
const SchemaVersion uint16 = 1

// Escrow is the durable per-owner custody record.
type Escrow struct {
	Address             string   `json:"address"`
	Owner               Identity `json:"owner"`
	PlatformAuthority   Identity `json:"platform_authority"`
	TradingAuthority    Identity `json:"trading_authority"`
	TokenMint           Identity `json:"token_mint"`
	AddressSalt         byte     `json:"address_salt"`
	Flags               Flags    `json:"flags"`
	CreatedAt           int64    `json:"created_at"`
	PlatformActivatedAt int64    `json:"platform_activated_at"`
	TradingActivatedAt  int64    `json:"trading_activated_at"`
	LastPausedAt        int64    `json:"last_paused_at"`
	ActionNonce         uint64   `json:"action_nonce"`
	TotalDeposited      uint64   `json:"total_deposited"`
	TotalWithdrawn      uint64   `json:"total_withdrawn"`
	TotalFeesPaid       uint64   `json:"total_fees_paid"`
	TotalTraded         uint64   `json:"total_traded"`
	MaxBalance          uint64   `json:"max_balance"`
	MaxLifetime         int64    `json:"max_lifetime"`
	SchemaVersion       uint16   `json:"schema_version"`
}

// VaultAccount is the token-holding sub-account backing one escrow record.
// Balance is the held amount; Reserve is the reclaimable storage deposit
// returned to the owner on closure.
type VaultAccount struct {
	Address   string   `json:"address"`
	Owner     Identity `json:"owner"`
	TokenMint Identity `json:"token_mint"`
	Balance   uint64   `json:"balance"`
	Reserve   uint64   `json:"reserve"`
	CreatedAt int64    `json:"created_at"`
}

// IsPaused reports whether the record is paused.
func (e *Escrow) IsPaused() bool {
	return e.Flags&FlagPaused != 0
}

// IsPlatformActive reports whether a platform authority is delegated.
func (e *Escrow) IsPlatformActive() bool {
	return e.Flags&FlagPlatformActive != 0
}

// IsTradingActive reports whether a trading authority is delegated.
func (e *Escrow) IsTradingActive() bool {
	return e.Flags&FlagTradingActive != 0
}

// HasActiveAuthority reports whether any delegate currently holds power.
// Owner withdrawal and closure are forbidden while this is true.
func (e *Escrow) HasActiveAuthority() bool {
	return e.IsPlatformActive() || e.IsTradingActive()
}

// IsExpired reports whether the record's lifetime window has elapsed.
// MaxLifetime of zero means the record never expires. The boundary instant
// (now == CreatedAt+MaxLifetime) is still valid.
func (e *Escrow) IsExpired(now int64) bool {
	if e.MaxLifetime == 0 {
		return false
	}
	return now-e.CreatedAt > e.MaxLifetime
}

// CanUnpause reports whether the unpause cooldown has elapsed. A record that
// has never been paused can always unpause. The cooldown boundary is
// inclusive.
func (e *Escrow) CanUnpause(now int64) bool {
	if e.LastPausedAt == 0 {
		return true
	}
	return now-e.LastPausedAt >= UnpauseCooldown
}

// IsPlatformAuthorityMature reports whether the platform authority's
// time-lock has elapsed. Never-activated authority is never mature. The age
// boundary is inclusive.
func (e *Escrow) IsPlatformAuthorityMature(now int64) bool {
	if e.PlatformActivatedAt == 0 {
		return false
	}
	return now-e.PlatformActivatedAt >= MinAuthorityAge
}

// IsTradingAuthorityMature reports whether the trading authority's time-lock
// has elapsed.
func (e *Escrow) IsTradingAuthorityMature(now int64) bool {
	if e.TradingActivatedAt == 0 {
		return false
	}
	return now-e.TradingActivatedAt >= MinAuthorityAge
}

// SetPlatformActive toggles the platform-active flag.
func (e *Escrow) SetPlatformActive(active bool) {
	if active {
		e.Flags |= FlagPlatformActive
	} else {
		e.Flags &^= FlagPlatformActive
	}
}

// SetTradingActive toggles the trading-active flag.
func (e *Escrow) SetTradingActive(active bool) {
	if active {
		e.Flags |= FlagTradingActive
	} else {
		e.Flags &^= FlagTradingActive
	}
}

// SetPaused toggles the paused flag. Transitioning to paused stamps
// LastPausedAt; unpausing leaves the timestamp untouched so the cooldown
// always measures from the most recent pause.
func (e *Escrow) SetPaused(paused bool, now int64) {
	if paused {
		e.Flags |= FlagPaused
		e.LastPausedAt = now
	} else {
		e.Flags &^= FlagPaused
	}
}

// BumpNonce advances the replay-protection counter. The counter wraps on
// overflow rather than failing; this is the one deliberate exception to the
// checked-arithmetic rule for the accumulator fields.
func (e *Escrow) BumpNonce() {
	e.ActionNonce++
}
